package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/checksum"
	"github.com/starford/foxtales/internal/library"
)

// Notifier publishes change events addressed to one user.
type Notifier interface {
	PublishChangeFor(user, resource, kind, id string)
}

// BookHandler serves the calibre library of the session user.
type BookHandler struct {
	maxUpload int64
	notify    Notifier
}

// NewBookHandler creates a BookHandler. maxUpload <= 0 means unlimited;
// notify may be nil.
func NewBookHandler(maxUpload int64, notify Notifier) *BookHandler {
	return &BookHandler{maxUpload: maxUpload, notify: notify}
}

// publish tells the acting user about a change to id. Other users only
// learn that the library changed.
func (h *BookHandler) publish(r *http.Request, kind string, id int) {
	if h.notify == nil {
		return
	}
	if s, err := SessionFromContext(r.Context()); err == nil {
		h.notify.PublishChangeFor(s.Username, "book", kind, strconv.Itoa(id))
	}
}

// library returns the session user's service.
func sessionLibrary(r *http.Request) (*library.Service, error) {
	s, err := SessionFromContext(r.Context())
	if err != nil {
		return nil, errors.Join(apperr.ErrUnauthorized, err)
	}
	return s.Value, nil
}

// bookID reads the id from the path or, for legacy routes, book_id in the
// query.
func bookID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		raw = r.URL.Query().Get("book_id")
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("api: book id %q: %w", raw, apperr.ErrInvalidInput)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("api: %s=%q: %w", name, raw, apperr.ErrInvalidInput)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("api: invalid JSON body: %w", errors.Join(apperr.ErrInvalidInput, err))
	}
	return nil
}

// Add handles PUT /api/books (multipart, field "file", optional "owners").
//
//	@Summary		Add a book to the library
//	@Tags			books
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Book file"
//	@Param			owners	formData	string	false	"Comma separated owner, then readers"
//	@Success		201		{object}	AddBookResponse
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books [put]
func (h *BookHandler) Add(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	id, err := svc.Add(r.Context(), header.Filename, file, r.MultipartForm.Value["owners"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publish(r, "added", id)
	writeJSON(w, http.StatusCreated, AddBookResponse{BookID: id, Success: true})
}

// Remove handles DELETE /api/books/{id}.
//
//	@Summary		Remove a book (owner only)
//	@Tags			books
//	@Param			id	path		int	true	"Book id"
//	@Success		200	{object}	StatusResponse
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{id} [delete]
func (h *BookHandler) Remove(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := svc.Remove(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.publish(r, "deleted", id)
	writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// List handles GET /api/books.
//
//	@Summary		List visible books, newest first
//	@Tags			books
//	@Produce		json
//	@Param			search_query	query	string	false	"calibredb search expression"
//	@Param			fields			query	string	false	"Comma separated fields or all"
//	@Param			start_from		query	int		false	"Items to skip"
//	@Param			max_items		query	int		false	"Page size, 0 or negative for all"
//	@Success		200				{array}	calibre.Item
//	@Security		BearerAuth
//	@Router			/books [get]
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, err := queryInt(r, "start_from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "max_items")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := svc.List(r.Context(), q.Get("search_query"), q.Get("fields"), start, max(limit, 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Get handles GET /api/books/{id}.
//
//	@Summary		Get a book with the caller's progress
//	@Tags			books
//	@Produce		json
//	@Param			id	path		int	true	"Book id"
//	@Success		200	{object}	library.Details
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{id} [get]
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Cover handles GET /api/books/{id}/cover.
//
//	@Summary		Get the cover thumbnail
//	@Tags			books
//	@Produce		jpeg,json
//	@Param			id			path	int		true	"Book id"
//	@Param			data_url	query	bool	false	"Return a data: URL as a JSON string"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{id}/cover [get]
func (h *BookHandler) Cover(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := svc.Cover(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if queryBool(r, "data_url") {
		writeJSON(w, http.StatusOK, "data:"+c.MIME+";base64,"+base64.StdEncoding.EncodeToString(c.Data))
		return
	}
	writeImage(w, r, c.MIME, c.Data)
}

// Content handles GET /api/books/{id}/content.
//
//	@Summary		Download a book file
//	@Tags			books
//	@Param			id		path	int		true	"Book id"
//	@Param			format	query	string	false	"Format such as EPUB, first available if empty"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{id}/content [get]
func (h *BookHandler) Content(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	format := strings.TrimPrefix(r.URL.Query().Get("format"), ".")
	mimeType, data, err := svc.Content(r.Context(), id, format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeBytes(w, mimeType, data)
}

// Progress handles GET /api/books/{id}/progress.
//
//	@Summary		Get the caller's reading progress
//	@Tags			books
//	@Produce		json
//	@Param			id	path		int	true	"Book id"
//	@Success		200	{object}	progress.Record
//	@Security		BearerAuth
//	@Router			/books/{id}/progress [get]
func (h *BookHandler) Progress(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := svc.Progress(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SetProgress handles PUT /api/books/{id}/progress.
//
//	@Summary		Store the caller's reading progress
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Book id"
//	@Param			body	body		ProgressRequest	true	"Progress"
//	@Success		200		{object}	progress.Record
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{id}/progress [put]
func (h *BookHandler) SetProgress(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := svc.SetProgress(r.Context(), id, req.Record())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publish(r, "updated", id)
	writeJSON(w, http.StatusOK, rec)
}

// SetReaders handles PUT /api/books/{id}/readers.
//
//	@Summary		Replace who may read a book (owner only)
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Book id"
//	@Param			body	body		ReadersRequest	true	"Readers"
//	@Success		200		{object}	StatusResponse
//	@Failure		403		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/books/{id}/readers [put]
func (h *BookHandler) SetReaders(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := bookID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ReadersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := svc.SetReaders(r.Context(), id, req.Readers); err != nil {
		writeError(w, r, err)
		return
	}
	h.publish(r, "updated", id)
	writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

// SetMetadata handles the legacy POST /api/set_book_metadata.
func (h *BookHandler) SetMetadata(w http.ResponseWriter, r *http.Request) {
	svc, err := sessionLibrary(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req LegacyMetadataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := svc.SetProgress(r.Context(), req.BookID, req.Record())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publish(r, "updated", req.BookID)
	writeJSON(w, http.StatusOK, rec)
}

// writeImage writes data with an ETag and answers 304 when the client
// already has it.
func writeImage(w http.ResponseWriter, r *http.Request, mimeType string, data []byte) {
	tag := checksum.ETag(data)
	w.Header().Set("ETag", tag)
	w.Header().Set("Cache-Control", "private, no-cache")
	if checksum.MatchETag(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeBytes(w, mimeType, data)
}

func writeBytes(w http.ResponseWriter, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
