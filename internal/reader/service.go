// Package reader is the standalone comic reader: uploaded CBZ archives are
// kept in per-book directories and served page by page.
package reader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/archive"
	"github.com/starford/foxtales/internal/imaging"
	"github.com/starford/foxtales/internal/index"
	"github.com/starford/foxtales/internal/models"
	"github.com/starford/foxtales/internal/storage"
)

// File names inside a book directory.
const (
	BookFile  = "book.cbz"
	CoverFile = "cover.jpg"
)

const (
	comicFormat = "cbz"
	comicMIME   = "application/vnd.comicbook+zip"
)

// Notifier receives catalog changes made through the service.
type Notifier interface {
	PublishChange(resource, kind, id string)
}

// Config holds reader settings.
type Config struct {
	CoverBox      imaging.Box
	MaxUploadSize int64 // bytes, <= 0 means unlimited
}

// Service manages the comic catalog.
type Service struct {
	store  storage.Provider
	idx    index.ComicIndex
	cfg    Config
	notify Notifier
	logger *slog.Logger
	now    func() time.Time

	// metaMu serializes meta.json read-modify-write cycles.
	metaMu sync.Mutex
}

// New creates a reader service. notify may be nil.
func New(store storage.Provider, idx index.ComicIndex, cfg Config, notify Notifier, logger *slog.Logger) *Service {
	if cfg.CoverBox.Width == 0 && cfg.CoverBox.Height == 0 {
		cfg.CoverBox = imaging.Box{Width: 600, Height: 400}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, idx: idx, cfg: cfg, notify: notify, logger: logger, now: time.Now}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("reader: invalid comic id %q: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// NewID returns a fresh book id (32 lower-case hex digits).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Add stores an uploaded archive and returns its metadata. Archives without
// readable pages are rejected and nothing is kept.
func (s *Service) Add(ctx context.Context, filename string, r io.Reader) (models.Comic, error) {
	id := NewID()
	meta, err := s.add(ctx, id, filename, r)
	if err != nil {
		if rmErr := s.store.RemoveAll(id); rmErr != nil {
			s.logger.Warn("reader: cleanup failed", slog.String("id", id), slog.String("error", rmErr.Error()))
		}
		return models.Comic{}, err
	}
	s.logger.Info("reader: comic added", slog.String("id", id), slog.String("title", meta.Title), slog.Int("pages", len(meta.Chapters)))
	s.publish("added", id)
	return meta, nil
}

func (s *Service) add(ctx context.Context, id, filename string, r io.Reader) (models.Comic, error) {
	bookPath := path.Join(id, BookFile)
	if _, err := s.store.WriteFrom(bookPath, r, s.cfg.MaxUploadSize); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return models.Comic{}, fmt.Errorf("reader: upload: %w: %w", err, apperr.ErrInvalidInput)
		}
		return models.Comic{}, fmt.Errorf("reader: store upload: %w", err)
	}

	a, err := s.openArchive(id)
	if err != nil {
		return models.Comic{}, err
	}
	defer a.Close()

	cover, err := a.Cover(ctx)
	if err != nil {
		return models.Comic{}, err
	}
	thumb, err := imaging.Thumbnail(cover, s.cfg.CoverBox, imaging.DefaultQuality)
	if err != nil {
		return models.Comic{}, &archive.InvalidArchiveError{Path: filename, Err: err}
	}
	if err := s.store.Write(path.Join(id, CoverFile), thumb); err != nil {
		return models.Comic{}, fmt.Errorf("reader: store cover: %w", err)
	}

	title := a.Title()
	if title == "" {
		base := filepath.Base(filename)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if title == "" || title == "." {
		title = id
	}
	meta := models.Comic{
		Version:    models.MetaVersion,
		Identifier: id,
		Title:      title,
		Format:     comicFormat,
		MIMEType:   comicMIME,
		Chapters:   a.Chapters(),
	}
	if err := s.writeMeta(meta); err != nil {
		return models.Comic{}, err
	}
	return meta, nil
}

// List returns the catalog ordered by title.
func (s *Service) List(_ context.Context) ([]models.ComicSummary, error) {
	rows, _, err := s.idx.ListComics(0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.ComicSummary, len(rows))
	for i, r := range rows {
		out[i] = r.Summary()
	}
	return out, nil
}

// Search finds comics by title.
func (s *Service) Search(_ context.Context, query string, limit int) ([]models.ComicSummary, error) {
	rows, err := s.idx.Search(query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ComicSummary, len(rows))
	for i, r := range rows {
		out[i] = r.Summary()
	}
	return out, nil
}

// Get returns the metadata of comic id.
func (s *Service) Get(_ context.Context, id string) (models.Comic, error) {
	return s.readMeta(id)
}

// Cover returns the JPEG cover thumbnail of comic id.
func (s *Service) Cover(_ context.Context, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.store.Read(path.Join(id, CoverFile))
}

// CoverBase64 returns the cover as standard base64.
func (s *Service) CoverBase64(ctx context.Context, id string) (string, error) {
	data, err := s.Cover(ctx, id)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Content extracts every page of comic id and returns them base64 encoded,
// keyed by chapter identifier. Identifiers sort in page order.
func (s *Service) Content(ctx context.Context, id string) (map[string]string, error) {
	a, err := s.openArchive(id)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	out := make(map[string]string, a.Len())
	for p, err := range a.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		out[p.Identifier] = base64.StdEncoding.EncodeToString(p.Data)
	}
	return out, nil
}

// Page returns page n (0-based) of comic id and its content type.
func (s *Service) Page(ctx context.Context, id string, n int) (string, []byte, error) {
	a, err := s.openArchive(id)
	if err != nil {
		return "", nil, err
	}
	defer a.Close()

	data, err := a.Page(ctx, n)
	if err != nil {
		return "", nil, err
	}
	return archive.MIMEType(a.Names()[n]), data, nil
}

// SetProgress records the reading position of comic id and returns the
// updated metadata. A zero LastUpdated is set to now.
func (s *Service) SetProgress(_ context.Context, id string, p models.ReadingProgress) (models.Comic, error) {
	if p.Chapter < 0 || p.Position < 0 || p.LastUpdated < 0 {
		return models.Comic{}, fmt.Errorf("reader: negative progress: %w", apperr.ErrInvalidInput)
	}

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return models.Comic{}, err
	}
	if p.Chapter >= len(meta.Chapters) {
		return models.Comic{}, fmt.Errorf("reader: chapter %d out of range [0, %d): %w", p.Chapter, len(meta.Chapters), apperr.ErrInvalidInput)
	}
	if p.LastUpdated == 0 {
		p.LastUpdated = float64(s.now().UnixMilli()) / 1000
	}
	meta.Progress = p
	meta.Version++
	if err := s.writeMeta(meta); err != nil {
		return models.Comic{}, err
	}
	s.publish("updated", id)
	return meta, nil
}

// Delete removes comic id and its files.
func (s *Service) Delete(_ context.Context, id string) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	if _, err := s.readMeta(id); err != nil {
		return err
	}
	if err := s.store.RemoveAll(id); err != nil {
		return err
	}
	if _, err := s.idx.DeleteComic(id); err != nil {
		return err
	}
	s.logger.Info("reader: comic deleted", slog.String("id", id))
	s.publish("deleted", id)
	return nil
}

func (s *Service) openArchive(id string) (*archive.Archive, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	abs, err := s.store.Path(path.Join(id, BookFile))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reader: comic %s: %w", id, apperr.ErrNotFound)
	}
	return archive.Open(id, abs)
}

func (s *Service) readMeta(id string) (models.Comic, error) {
	if err := checkID(id); err != nil {
		return models.Comic{}, err
	}
	data, err := s.store.Read(index.MetaPath(id))
	if err != nil {
		return models.Comic{}, err
	}
	var meta models.Comic
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.Comic{}, fmt.Errorf("reader: decode %s: %w", index.MetaPath(id), err)
	}
	if meta.Chapters == nil {
		meta.Chapters = []models.Chapter{}
	}
	return meta, nil
}

func (s *Service) writeMeta(meta models.Comic) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("reader: encode meta: %w", err)
	}
	if err := s.store.Write(index.MetaPath(meta.Identifier), data); err != nil {
		return fmt.Errorf("reader: store meta: %w", err)
	}
	if err := index.IndexMeta(s.idx, meta.Identifier, data); err != nil {
		return fmt.Errorf("reader: index: %w", err)
	}
	return nil
}

func (s *Service) publish(kind, id string) {
	if s.notify != nil {
		s.notify.PublishChange("comic", kind, id)
	}
}
