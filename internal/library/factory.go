package library

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/covercache"
	"github.com/starford/foxtales/internal/progress"
)

// Factory opens services for users. Covers and progress locks are shared by
// every service it opens.
type Factory struct {
	base     calibre.Config
	runner   calibre.Runner
	obs      calibre.Observer
	covers   *covercache.Cache
	locks    *progress.Locks
	logger   *slog.Logger
	upgraded atomic.Bool
}

// NewFactory creates a factory. base supplies everything but the user's
// credentials.
func NewFactory(base calibre.Config, runner calibre.Runner, obs calibre.Observer, covers *covercache.Cache, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		base:   base,
		runner: runner,
		obs:    obs,
		covers: covers,
		locks:  &progress.Locks{},
		logger: logger,
	}
}

// Open checks the credentials against the library and returns a service
// acting for username. Bad credentials yield apperr.ErrUnauthorized. The
// access columns are created on the first successful open.
func (f *Factory) Open(ctx context.Context, username, password string) (*Service, error) {
	cfg := f.base
	cfg.Username = username
	cfg.Password = password
	client := calibre.NewClient(cfg, f.runner, f.obs, f.logger)

	if err := client.Authenticate(ctx); err != nil {
		return nil, err
	}
	if !f.upgraded.Load() {
		if err := client.EnsureCustomColumns(ctx); err != nil {
			return nil, err
		}
		f.upgraded.Store(true)
	}
	return NewService(client, f.covers, f.locks, f.logger), nil
}
