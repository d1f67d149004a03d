package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/reader"
)

// ComicHandler serves the standalone comic reader.
type ComicHandler struct {
	svc       *reader.Service
	maxUpload int64
}

// NewComicHandler creates a ComicHandler. maxUpload <= 0 means unlimited.
func NewComicHandler(svc *reader.Service, maxUpload int64) *ComicHandler {
	return &ComicHandler{svc: svc, maxUpload: maxUpload}
}

// Add handles POST /api/comics (multipart, field "file").
//
//	@Summary		Upload a CBZ comic
//	@Tags			comics
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"CBZ archive"
//	@Success		201		{object}	models.Comic
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics [post]
func (h *ComicHandler) Add(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		// Multipart framing needs a little room above the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid multipart form"))
		return
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		comic, err := h.svc.Add(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, comic)
		return
	}
}

// List handles GET /api/comics.
//
//	@Summary		List comics ordered by title
//	@Tags			comics
//	@Produce		json
//	@Param			q		query	string	false	"Title search"
//	@Param			limit	query	int		false	"Max search results"
//	@Success		200		{array}	models.ComicSummary
//	@Security		BearerAuth
//	@Router			/comics [get]
func (h *ComicHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		comics, err := h.svc.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, comics)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	comics, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comics)
}

// Get handles GET /api/comics/{id}. The cover is embedded as base64.
//
//	@Summary		Get a comic's metadata and cover
//	@Tags			comics
//	@Produce		json
//	@Param			id	path		string	true	"Comic id"
//	@Success		200	{object}	ComicDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics/{id} [get]
func (h *ComicHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	comic, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cover, err := h.svc.CoverBase64(r.Context(), id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ComicDetail{Comic: comic, Cover: cover})
}

// Cover handles GET /api/comics/{id}/cover.
//
//	@Summary		Get a comic's cover thumbnail
//	@Tags			comics
//	@Produce		jpeg,json
//	@Param			id	path	string	true	"Comic id"
//	@Param			b64	query	bool	false	"Return base64 as a JSON string"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics/{id}/cover [get]
func (h *ComicHandler) Cover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if queryBool(r, "b64") {
		cover, err := h.svc.CoverBase64(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cover)
		return
	}
	data, err := h.svc.Cover(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeImage(w, r, "image/jpeg", data)
}

// Content handles GET /api/comics/{id}/content.
//
//	@Summary		Get every page as base64, keyed by chapter id
//	@Tags			comics
//	@Produce		json
//	@Param			id	path		string	true	"Comic id"
//	@Success		200	{object}	map[string]string
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics/{id}/content [get]
func (h *ComicHandler) Content(w http.ResponseWriter, r *http.Request) {
	pages, err := h.svc.Content(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

// Page handles GET /api/comics/{id}/pages/{n}.
//
//	@Summary		Get one page image (0-based)
//	@Tags			comics
//	@Param			id	path	string	true	"Comic id"
//	@Param			n	path	int		true	"Page index"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics/{id}/pages/{n} [get]
func (h *ComicHandler) Page(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "n")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, r, fmt.Errorf("api: page %q: %w", raw, apperr.ErrInvalidInput))
		return
	}
	mimeType, data, err := h.svc.Page(r.Context(), chi.URLParam(r, "id"), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeBytes(w, mimeType, data)
}

// SetProgress handles PUT /api/comics/{id}/progress.
//
//	@Summary		Store the reading position
//	@Tags			comics
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Comic id"
//	@Param			body	body		ComicProgressRequest	true	"Progress"
//	@Success		200		{object}	models.Comic
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics/{id}/progress [put]
func (h *ComicHandler) SetProgress(w http.ResponseWriter, r *http.Request) {
	var req ComicProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	comic, err := h.svc.SetProgress(r.Context(), chi.URLParam(r, "id"), req.Progress())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comic)
}

// Delete handles DELETE /api/comics/{id}.
//
//	@Summary		Delete a comic
//	@Tags			comics
//	@Param			id	path	string	true	"Comic id"
//	@Success		204	"Comic deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/comics/{id} [delete]
func (h *ComicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
