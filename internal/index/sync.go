package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/starford/foxtales/internal/checksum"
	"github.com/starford/foxtales/internal/models"
	"github.com/starford/foxtales/internal/storage"
)

// Sync walks the books directory and brings the index up to date:
//   - new/changed meta.json files are decoded and upserted
//   - books removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	entries, err := store.List()
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		disk[e.ID] = struct{}{}

		if checksums[e.ID] == e.Checksum {
			continue
		}

		data, err := store.Read(MetaPath(e.ID))
		if err != nil {
			logger.Warn("sync: read failed", slog.String("id", e.ID), slog.String("error", err.Error()))
			continue
		}
		if err := IndexMeta(db, e.ID, data); err != nil {
			logger.Warn("sync: index failed", slog.String("id", e.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("id", e.ID))
		}
	}

	// Remove stale entries.
	for id := range checksums {
		if _, ok := disk[id]; !ok {
			if _, err := db.DeleteComic(id); err != nil {
				logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("id", id))
			}
		}
	}

	return nil
}

// MetaPath returns the storage path of a book's meta.json.
func MetaPath(id string) string {
	return path.Join(id, storage.MetaFile)
}

// IndexMeta decodes a meta.json and upserts it into the DB.
func IndexMeta(db ComicIndex, id string, data []byte) error {
	var meta models.Comic
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index: decode %s: %w", MetaPath(id), err)
	}
	title := meta.Title
	if title == "" {
		title = id
	}
	return db.UpsertComic(ComicRow{
		ID:       id,
		Title:    title,
		Pages:    len(meta.Chapters),
		Checksum: checksum.Sum(data),
		Progress: meta.Progress,
	})
}
