// Package library is the per-user facade over the calibre gateway: it adds
// access checks, paging, cover caching and reading progress.
package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/foxtales/internal/access"
	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/covercache"
	"github.com/starford/foxtales/internal/progress"
)

// Gateway is the subset of *calibre.Client the service needs.
type Gateway interface {
	Username() string
	ListItems(ctx context.Context, query, fields string) ([]calibre.Item, error)
	GetItem(ctx context.Context, id int) (calibre.Item, error)
	AddItem(ctx context.Context, path string, owners []string) (int, error)
	RemoveItem(ctx context.Context, id int) error
	SetReaders(ctx context.Context, id int, readers []string) error
	RetrieveFormat(ctx context.Context, id int, format string) (string, []byte, error)
	RetrieveCover(ctx context.Context, id int) (string, []byte, error)
	progress.BlobStore
}

// Details is an item together with the caller's progress in it.
type Details struct {
	calibre.Item
	Progress progress.Record
}

// MarshalJSON flattens the item and adds a "progress" field.
func (d Details) MarshalJSON() ([]byte, error) {
	item, err := json.Marshal(d.Item)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(item, &out); err != nil {
		return nil, err
	}
	p, err := json.Marshal(d.Progress)
	if err != nil {
		return nil, err
	}
	out["progress"] = p
	return json.Marshal(out)
}

// Service acts on behalf of one user.
type Service struct {
	gw      Gateway
	covers  *covercache.Cache
	overlay *progress.Overlay
	logger  *slog.Logger
}

// NewService creates a service over gw. covers may be nil to disable caching.
func NewService(gw Gateway, covers *covercache.Cache, locks *progress.Locks, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gw:      gw,
		covers:  covers,
		overlay: progress.NewOverlay(gw, calibre.DefaultExtraDataName, locks, logger),
		logger:  logger,
	}
}

// Username returns the user the service acts for.
func (s *Service) Username() string {
	return s.gw.Username()
}

// List returns visible items, newest first, skipping start items and
// returning at most limit (0 means no limit).
func (s *Service) List(ctx context.Context, query, fields string, start, limit int) ([]calibre.Item, error) {
	if start < 0 || limit < 0 {
		return nil, fmt.Errorf("library: negative paging: %w", apperr.ErrInvalidInput)
	}
	items, err := s.gw.ListItems(ctx, query, fields)
	if err != nil {
		return nil, err
	}
	if start >= len(items) {
		return []calibre.Item{}, nil
	}
	items = items[start:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

// Get returns item id with the caller's progress.
func (s *Service) Get(ctx context.Context, id int) (Details, error) {
	it, err := s.gw.GetItem(ctx, id)
	if err != nil {
		return Details{}, err
	}
	rec, err := s.overlay.Get(ctx, id, s.Username())
	if err != nil {
		return Details{}, err
	}
	return Details{Item: it, Progress: rec}, nil
}

// Add stores the upload r as filename and returns the new item id.
func (s *Service) Add(ctx context.Context, filename string, r io.Reader, owners []string) (int, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || filepath.Ext(name) == "" {
		return 0, fmt.Errorf("library: file name %q: %w", filename, apperr.ErrInvalidInput)
	}

	dir, err := os.MkdirTemp("", "foxtales-upload-*")
	if err != nil {
		return 0, fmt.Errorf("library: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("library: create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return 0, fmt.Errorf("library: write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("library: close upload: %w", err)
	}

	id, err := s.gw.AddItem(ctx, path, cleanNames(owners))
	if err != nil {
		return id, err
	}
	s.logger.Info("library: item added", slog.Int("id", id), slog.String("user", s.Username()))
	return id, nil
}

// Remove deletes item id. Only its owner may.
func (s *Service) Remove(ctx context.Context, id int) error {
	if _, err := s.modifiable(ctx, id); err != nil {
		return err
	}
	if err := s.gw.RemoveItem(ctx, id); err != nil {
		return err
	}
	if s.covers != nil {
		s.covers.Invalidate(id)
	}
	s.logger.Info("library: item removed", slog.Int("id", id), slog.String("user", s.Username()))
	return nil
}

// SetReaders replaces who may read item id. Only its owner may.
func (s *Service) SetReaders(ctx context.Context, id int, readers []string) error {
	if _, err := s.modifiable(ctx, id); err != nil {
		return err
	}
	return s.gw.SetReaders(ctx, id, cleanNames(readers))
}

// Cover returns the thumbnail of item id.
func (s *Service) Cover(ctx context.Context, id int) (covercache.Cover, error) {
	if _, err := s.gw.GetItem(ctx, id); err != nil {
		return covercache.Cover{}, err
	}
	load := func(ctx context.Context) (covercache.Cover, error) {
		mimeType, data, err := s.gw.RetrieveCover(ctx, id)
		return covercache.Cover{MIME: mimeType, Data: data}, err
	}
	if s.covers == nil {
		return load(ctx)
	}
	return s.covers.Get(ctx, id, load)
}

// Content returns the file of item id in format. An empty format picks the
// first available one.
func (s *Service) Content(ctx context.Context, id int, format string) (string, []byte, error) {
	it, err := s.gw.GetItem(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if format == "" {
		if len(it.Formats) == 0 {
			return "", nil, fmt.Errorf("library: item %d has no files: %w", id, apperr.ErrNotFound)
		}
		format = it.Formats[0]
	}
	if !it.HasFormat(format) {
		return "", nil, fmt.Errorf("library: item %d has no %s: %w", id, strings.ToUpper(format), apperr.ErrNotFound)
	}
	return s.gw.RetrieveFormat(ctx, id, format)
}

// Progress returns the caller's progress in item id.
func (s *Service) Progress(ctx context.Context, id int) (progress.Record, error) {
	if _, err := s.gw.GetItem(ctx, id); err != nil {
		return progress.Record{}, err
	}
	return s.overlay.Get(ctx, id, s.Username())
}

// SetProgress stores the caller's progress in item id.
func (s *Service) SetProgress(ctx context.Context, id int, rec progress.Record) (progress.Record, error) {
	if rec.Position < 0 || rec.LastUpdated < 0 {
		return progress.Record{}, fmt.Errorf("library: negative progress: %w", apperr.ErrInvalidInput)
	}
	if _, err := s.gw.GetItem(ctx, id); err != nil {
		return progress.Record{}, err
	}
	return s.overlay.Set(ctx, id, s.Username(), rec)
}

// Metadata returns the progress of every user in item id.
func (s *Service) Metadata(ctx context.Context, id int) (progress.Blob, error) {
	if _, err := s.gw.GetItem(ctx, id); err != nil {
		return progress.Blob{}, err
	}
	return s.overlay.Blob(ctx, id)
}

func (s *Service) modifiable(ctx context.Context, id int) (calibre.Item, error) {
	it, err := s.gw.GetItem(ctx, id)
	if err != nil {
		return calibre.Item{}, err
	}
	if !access.CanModify(it.Owner, s.Username()) {
		return calibre.Item{}, fmt.Errorf("library: item %d is owned by %s: %w", id, it.Owner, apperr.ErrForbidden)
	}
	return it, nil
}

func cleanNames(names []string) []string {
	var out []string
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
