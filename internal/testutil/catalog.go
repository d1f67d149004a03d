package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/foxtales/internal/index"
	"github.com/starford/foxtales/internal/storage"
)

// Catalog returns an empty books directory and an open SQLite index, both
// removed when the test ends.
func Catalog(t testing.TB) (*storage.FS, *index.DB) {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	db, err := index.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store, db
}
