package index

import (
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "foxtales-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM comics`).Scan(&count); err != nil {
		t.Fatalf("comics table missing: %v", err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := testDB(t)
	row := ComicRow{
		ID:        "abc",
		Title:     "Fox Tales",
		Pages:     12,
		Checksum:  "abc123",
		Progress:  models.ReadingProgress{Chapter: 3, Position: 0.5, LastUpdated: 99},
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertComic(row); err != nil {
		t.Fatalf("UpsertComic: %v", err)
	}
	cs, err := db.GetChecksum("abc")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
	got, err := db.GetComic("abc")
	if err != nil {
		t.Fatalf("GetComic: %v", err)
	}
	if got.Title != "Fox Tales" || got.Pages != 12 || got.Progress != row.Progress {
		t.Errorf("got %+v", got)
	}
}

func TestGetComic_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetComic("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteComic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertComic(ComicRow{ID: "del", Checksum: "x"})

	removed, err := db.DeleteComic("del")
	if err != nil {
		t.Fatalf("DeleteComic: %v", err)
	}
	if !removed {
		t.Error("removed = false, want true")
	}
	cs, _ := db.GetChecksum("del")
	if cs != "" {
		t.Errorf("deleted comic still has checksum %q", cs)
	}
	removed, _ = db.DeleteComic("del")
	if removed {
		t.Error("second delete reported a removal")
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertComic(ComicRow{ID: "up", Title: "Old", Checksum: "1"})
	_ = db.UpsertComic(ComicRow{ID: "up", Title: "New", Checksum: "2"})

	got, _ := db.GetComic("up")
	if got.Title != "New" || got.Checksum != "2" {
		t.Errorf("got %+v", got)
	}
}

func TestListComicsOrderedByTitle(t *testing.T) {
	db := testDB(t)
	for id, title := range map[string]string{"1": "beta", "2": "Alpha", "3": "gamma", "4": "alpha"} {
		_ = db.UpsertComic(ComicRow{ID: id, Title: title, Checksum: id})
	}

	rows, total, err := db.ListComics(0, 0)
	if err != nil {
		t.Fatalf("ListComics: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	var ids []string
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if want := []string{"2", "4", "1", "3"}; !slices.Equal(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}

	page, _, _ := db.ListComics(2, 1)
	if len(page) != 2 || page[0].ID != "4" {
		t.Errorf("page = %+v", page)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertComic(ComicRow{ID: "s", Title: "Uniqueword Adventures", Checksum: "1"})
	_ = db.UpsertComic(ComicRow{ID: "t", Title: "Other", Checksum: "2"})

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "s" {
		t.Errorf("search results = %+v, want 1 hit for s", results)
	}
}
