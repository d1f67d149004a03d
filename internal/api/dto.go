package api

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/models"
	"github.com/starford/foxtales/internal/progress"
)

// validate runs v.Validate and marks failures as invalid input.
func validate(v validation.Validatable) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

// TokenRequest is the login form.
type TokenRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password"`
}

// Validate validates the login form.
func (r TokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 128)),
	)
}

// TokenResponse is returned after a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
	TokenType   string `json:"token_type" example:"bearer" validate:"required"`
}

// StatusResponse reports a plain success.
type StatusResponse struct {
	Success bool `json:"success"`
}

// AddBookResponse is returned after an upload to the library.
type AddBookResponse struct {
	BookID  int  `json:"book_id" example:"42"`
	Success bool `json:"success"`
}

// ProgressRequest sets the caller's progress in a library item.
type ProgressRequest struct {
	Position    float64 `json:"position" example:"0.25"`
	LastUpdated float64 `json:"lastUpdated" example:"1718000000"`
}

// Validate validates the progress body.
func (r ProgressRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Position, validation.Min(0.0)),
		validation.Field(&r.LastUpdated, validation.Min(0.0)),
	)
}

// Record converts the body to a progress record.
func (r ProgressRequest) Record() progress.Record {
	return progress.Record{Position: r.Position, LastUpdated: r.LastUpdated}
}

// ReadersRequest replaces the readers of a library item.
type ReadersRequest struct {
	Readers []string `json:"readers" example:"bob,everybody"`
}

// Validate validates the readers body.
func (r ReadersRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Readers, validation.Each(validation.Length(0, 128))),
	)
}

// LegacyMetadataRequest is the body of POST /set_book_metadata.
type LegacyMetadataRequest struct {
	BookID int `json:"book_id"`
	Fxtl   struct {
		Progress        float64 `json:"progress"`
		ProgressUpdated float64 `json:"progress_updated"`
	} `json:"fxtl"`
}

// Validate validates the legacy metadata body.
func (r LegacyMetadataRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BookID, validation.Required, validation.Min(1)),
	)
}

// Record converts the body to a progress record.
func (r LegacyMetadataRequest) Record() progress.Record {
	return progress.Record{Position: r.Fxtl.Progress, LastUpdated: r.Fxtl.ProgressUpdated}
}

// ComicProgressRequest sets the reading position in a comic.
type ComicProgressRequest struct {
	Chapter     int     `json:"chapter" example:"3"`
	Position    float64 `json:"position" example:"0.5"`
	LastUpdated float64 `json:"lastUpdated"`
}

// Validate validates the comic progress body.
func (r ComicProgressRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Chapter, validation.Min(0)),
		validation.Field(&r.Position, validation.Min(0.0)),
		validation.Field(&r.LastUpdated, validation.Min(0.0)),
	)
}

// Progress converts the body to reading progress.
func (r ComicProgressRequest) Progress() models.ReadingProgress {
	return models.ReadingProgress{Chapter: r.Chapter, Position: r.Position, LastUpdated: r.LastUpdated}
}

// ComicDetail is a comic with its base64 cover, as the reader shows it.
type ComicDetail struct {
	models.Comic
	Cover string `json:"cover,omitempty"`
}
