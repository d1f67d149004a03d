//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS comics_fts USING fts5(
			id UNINDEXED,
			title,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, title string) error {
	_, _ = tx.Exec(`DELETE FROM comics_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO comics_fts (id, title) VALUES (?, ?)`, id, title)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM comics_fts WHERE id = ?`, id)
}

// Search performs an FTS5 full-text search over titles.
func (db *DB) Search(query string, limit int) ([]ComicRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT c.id, c.title, c.pages, c.checksum, c.chapter, c.position, c.last_read, c.updated_at
		FROM comics_fts f
		JOIN comics c ON c.id = f.id
		WHERE comics_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
