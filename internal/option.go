package internal

import (
	"github.com/starford/foxtales/internal/calibre"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	runner calibre.Runner
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRunner replaces the calibredb process runner.
func WithRunner(r calibre.Runner) Option {
	return func(a *application) {
		a.runner = r
	}
}
