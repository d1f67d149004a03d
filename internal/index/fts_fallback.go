//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on comics.title.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _ string) error {
	// Title is already stored in the comics table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

// Search performs a LIKE-based title search (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]ComicRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT `+comicColumns+`
		FROM comics
		WHERE title LIKE ?
		ORDER BY title COLLATE NOCASE, id
		LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []ComicRow
	for rows.Next() {
		c, err := scanComic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
