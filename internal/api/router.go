package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/foxtales/internal/apperr"

	"github.com/starford/foxtales/internal/reader"
)

// Deps are the services the API is built on. Reader, Events, Limiter,
// Recorder and Notifier are optional.
type Deps struct {
	Opener   Opener
	Sessions Sessions
	Limiter  *LoginLimiter
	Recorder LoginRecorder

	// Reader is nil when the comic reader is disabled.
	Reader         *reader.Service
	Notifier       Notifier
	Events         EventStream
	MaxUploadSize  int64
	AllowedOrigins string
}

// EventStream serves the event stream of one user.
type EventStream interface {
	ServeStream(w http.ResponseWriter, r *http.Request, user string)
}

// NewRouter creates a chi router with all API routes mounted. It is meant
// to be mounted under /api.
func NewRouter(d Deps) chi.Router {
	ah := NewAuthHandler(d.Opener, d.Sessions, d.Limiter, d.Recorder)
	bh := NewBookHandler(d.MaxUploadSize, d.Notifier)

	r := chi.NewRouter()
	r.Use(CORSMiddleware(d.AllowedOrigins))

	r.Post("/token", ah.Login)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(d.Sessions))

		r.Delete("/token", ah.Logout)

		// Library.
		r.Route("/books", func(r chi.Router) {
			r.Get("/", bh.List)
			r.Put("/", bh.Add)
			r.Get("/{id}", bh.Get)
			r.Delete("/{id}", bh.Remove)
			r.Get("/{id}/cover", bh.Cover)
			r.Get("/{id}/content", bh.Content)
			r.Get("/{id}/progress", bh.Progress)
			r.Put("/{id}/progress", bh.SetProgress)
			r.Put("/{id}/readers", bh.SetReaders)
		})

		// Legacy library routes, ids in book_id.
		r.Put("/add_book", bh.Add)
		r.Get("/remove_book", bh.Remove)
		r.Get("/list_books", bh.List)
		r.Get("/get_book_metadata", bh.Get)
		r.Get("/get_book_cover", bh.Cover)
		r.Post("/set_book_metadata", bh.SetMetadata)
		r.Get("/get_book", bh.Content)

		// Comic reader.
		if d.Reader != nil {
			ch := NewComicHandler(d.Reader, d.MaxUploadSize)
			r.Route("/comics", func(r chi.Router) {
				r.Get("/", ch.List)
				r.Post("/", ch.Add)
				r.Get("/{id}", ch.Get)
				r.Delete("/{id}", ch.Delete)
				r.Get("/{id}/cover", ch.Cover)
				r.Get("/{id}/content", ch.Content)
				r.Get("/{id}/pages/{n}", ch.Page)
				r.Put("/{id}/progress", ch.SetProgress)
			})
		}

		if d.Events != nil {
			r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
				s, err := SessionFromContext(r.Context())
				if err != nil {
					writeError(w, r, apperr.ErrUnauthorized)
					return
				}
				d.Events.ServeStream(w, r, s.Username)
			})
		}
	})

	return r
}
