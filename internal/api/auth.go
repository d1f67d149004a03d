package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/library"
)

// Opener opens a library service for a user after checking the credentials.
type Opener interface {
	Open(ctx context.Context, username, password string) (*library.Service, error)
}

// LoginRecorder counts login outcomes.
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandler issues and revokes session tokens.
type AuthHandler struct {
	opener   Opener
	sessions Sessions
	limiter  *LoginLimiter
	recorder LoginRecorder
}

// NewAuthHandler creates an AuthHandler. limiter and recorder may be nil.
func NewAuthHandler(opener Opener, sessions Sessions, limiter *LoginLimiter, recorder LoginRecorder) *AuthHandler {
	return &AuthHandler{opener: opener, sessions: sessions, limiter: limiter, recorder: recorder}
}

func (h *AuthHandler) record(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordLogin(outcome)
	}
}

// decodeLogin reads the credentials from a form or a JSON body.
func decodeLogin(r *http.Request) (TokenRequest, error) {
	var req TokenRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.Join(apperr.ErrInvalidInput, err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, errors.Join(apperr.ErrInvalidInput, err)
	}
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	return req, nil
}

// Login handles POST /api/token.
//
//	@Summary		Log in with library credentials
//	@Tags			auth
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			username	formData	string	true	"User name"
//	@Param			password	formData	string	true	"Password"
//	@Success		200			{object}	TokenResponse
//	@Failure		401			{object}	errResponse
//	@Failure		429			{object}	errResponse
//	@Router			/token [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	req, err := decodeLogin(r)
	if err == nil {
		err = validate(req)
	}
	if err != nil {
		h.record("invalid")
		writeError(w, r, err)
		return
	}

	if !h.limiter.Allow(req.Username) {
		h.record("rate_limited")
		slog.Warn("login rate limit exceeded", slog.String("username", req.Username))
		h.limiter.writeRateLimited(w)
		return
	}

	svc, err := h.opener.Open(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			h.record("rejected")
			slog.Info("login rejected", slog.String("username", req.Username))
		} else {
			h.record("error")
		}
		writeError(w, r, err)
		return
	}

	s, err := h.sessions.Create(req.Username, svc)
	if err != nil {
		h.record("error")
		writeError(w, r, err)
		return
	}
	h.record("success")
	slog.Info("login", slog.String("username", req.Username))
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: s.Token, TokenType: "bearer"})
}

// Logout handles DELETE /api/token.
//
//	@Summary		Revoke the current token
//	@Tags			auth
//	@Success		204	"Token revoked"
//	@Security		BearerAuth
//	@Router			/token [delete]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s, err := SessionFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}
	if err := h.sessions.Delete(s.Token); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
