package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/models"
)

// ComicRow represents a row in the comics table.
type ComicRow struct {
	ID        string
	Title     string
	Pages     int
	Checksum  string
	Progress  models.ReadingProgress
	UpdatedAt time.Time
}

// Summary converts the row for API output.
func (r ComicRow) Summary() models.ComicSummary {
	return models.ComicSummary{Identifier: r.ID, Title: r.Title, Pages: r.Pages, Progress: r.Progress}
}

const comicColumns = `id, title, pages, checksum, chapter, position, last_read, updated_at`

// UpsertComic inserts or replaces a comic and its FTS entry within a transaction.
func (db *DB) UpsertComic(c ComicRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err = tx.Exec(`
		INSERT INTO comics (`+comicColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title      = excluded.title,
			pages      = excluded.pages,
			checksum   = excluded.checksum,
			chapter    = excluded.chapter,
			position   = excluded.position,
			last_read  = excluded.last_read,
			updated_at = excluded.updated_at
	`, c.ID, c.Title, c.Pages, c.Checksum, c.Progress.Chapter, c.Progress.Position, c.Progress.LastUpdated, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert comic: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, c.ID, c.Title); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteComic removes a comic and its FTS entry. It reports whether a row
// was removed.
func (db *DB) DeleteComic(id string) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	res, err := tx.Exec(`DELETE FROM comics WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("index: delete comic: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

// GetChecksum returns the stored checksum for a comic, or empty string if not found.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM comics WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil // not found is fine
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetComic returns one catalog row.
func (db *DB) GetComic(id string) (*ComicRow, error) {
	row := db.conn.QueryRow(`SELECT `+comicColumns+` FROM comics WHERE id = ?`, id)
	c, err := scanComic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: comic %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get comic: %w", err)
	}
	return c, nil
}

// ListComics returns a page of the catalog ordered by title
// (case-insensitive) and the total count. limit <= 0 means all.
func (db *DB) ListComics(limit, offset int) ([]ComicRow, int, error) {
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM comics`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count comics: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.conn.Query(`
		SELECT `+comicColumns+`
		FROM comics
		ORDER BY title COLLATE NOCASE, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list comics: %w", err)
	}
	defer rows.Close()

	out := []ComicRow{}
	for rows.Next() {
		c, err := scanComic(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// AllChecksums returns the checksum of every indexed comic by id.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM comics`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanComic(s scanner) (*ComicRow, error) {
	var c ComicRow
	err := s.Scan(&c.ID, &c.Title, &c.Pages, &c.Checksum,
		&c.Progress.Chapter, &c.Progress.Position, &c.Progress.LastUpdated, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
