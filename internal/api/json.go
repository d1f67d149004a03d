package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string `json:"error" validate:"required"`
	Details string `json:"details,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a service error to a status code and a JSON body.
// Tool failures keep the calibredb output in details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		toolErr *calibre.ToolError
		maxErr  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxErr), errors.Is(err, storage.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("upload too large"))
	case errors.As(err, &toolErr):
		slog.Warn("calibredb failed",
			slog.String("path", r.URL.Path),
			slog.String("command", toolErr.Command),
			slog.Int("exit_code", toolErr.ExitCode))
		writeJSON(w, http.StatusBadGateway, errResponse{
			Error:   "calibredb failed",
			Details: strings.TrimSpace(toolErr.Output),
		})
	case errors.Is(err, apperr.ErrInvalidArchive):
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid archive", Details: err.Error()})
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "invalid input", Details: err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("conflict"))
	case errors.Is(err, apperr.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case errors.Is(err, apperr.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	default:
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
