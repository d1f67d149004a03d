// Package apperr defines the sentinel errors shared across Foxtales packages.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyExists  = errors.New("already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidArchive = errors.New("invalid archive")
	ErrInvalidInput   = errors.New("invalid input")
)
