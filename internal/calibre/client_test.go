package calibre_test

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/imaging"
	"github.com/starford/foxtales/internal/testutil"
)

type toolCounter struct {
	calls map[string]int
	fails int
}

func (c *toolCounter) ObserveTool(command string, _ time.Duration, err error) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[command]++
	if err != nil {
		c.fails++
	}
}

func newClient(fake *testutil.FakeCalibre, user string) *calibre.Client {
	return calibre.NewClient(calibre.Config{
		Library:        "/library",
		Username:       user,
		Password:       user + "-pw",
		UseCredentials: true,
	}, fake, nil, nil)
}

func TestListItemsFiltersByUser(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	fake.Put(testutil.FakeBook{Title: "Mine", Owner: "alice"})
	fake.Put(testutil.FakeBook{Title: "Shared", Owner: "bob", Readers: []string{"alice"}})
	fake.Put(testutil.FakeBook{Title: "Private", Owner: "bob"})
	fake.Put(testutil.FakeBook{Title: "Public", Owner: "bob", Readers: []string{"everybody"}})
	fake.Put(testutil.FakeBook{Title: "Legacy"})

	items, err := newClient(fake, "alice").ListItems(context.Background(), "", "")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	var titles []string
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	if want := []string{"Legacy", "Public", "Shared", "Mine"}; !slices.Equal(titles, want) {
		t.Errorf("titles = %v, want %v", titles, want)
	}
}

func TestCredentialsArePassed(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	fake.Users = map[string]string{"alice": "alice-pw"}

	if err := newClient(fake, "alice").Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	bad := calibre.NewClient(calibre.Config{Username: "alice", Password: "nope", UseCredentials: true}, fake, nil, nil)
	if err := bad.Authenticate(context.Background()); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("Authenticate with bad password err = %v, want ErrUnauthorized", err)
	}
	args := fake.LastArgs("custom_columns")
	if !slices.Contains(args, "--username") || !slices.Contains(args, "--with-library") {
		t.Errorf("args = %v", args)
	}
}

func TestEnsureCustomColumns(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	fake.DropColumns()
	c := newClient(fake, "alice")

	if err := c.EnsureCustomColumns(context.Background()); err != nil {
		t.Fatalf("EnsureCustomColumns: %v", err)
	}
	if want := []string{calibre.OwnerColumn, calibre.ReadersColumn}; !slices.Equal(fake.Columns(), want) {
		t.Errorf("columns = %v, want %v", fake.Columns(), want)
	}
	if got := fake.Calls("add_custom_column"); got != 2 {
		t.Errorf("add_custom_column calls = %d, want 2", got)
	}
	if !slices.Contains(fake.LastArgs("add_custom_column"), "--is-multiple") {
		t.Error("readers column created without --is-multiple")
	}

	if err := c.EnsureCustomColumns(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := fake.Calls("add_custom_column"); got != 2 {
		t.Errorf("second run added columns again: %d calls", got)
	}
}

func TestAddItemRecordsOwnership(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	c := newClient(fake, "alice")
	path := testutil.WriteFile(t, "Book.epub", []byte("epub"))

	id, err := c.AddItem(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	book, ok := fake.Book(id)
	if !ok {
		t.Fatalf("book %d missing", id)
	}
	if book.Owner != "alice" || len(book.Readers) != 0 {
		t.Errorf("owner=%q readers=%v", book.Owner, book.Readers)
	}

	id, err = c.AddItem(context.Background(), path, []string{"bob", "carol", "dave"})
	if err != nil {
		t.Fatal(err)
	}
	book, _ = fake.Book(id)
	if book.Owner != "bob" || !slices.Equal(book.Readers, []string{"carol", "dave"}) {
		t.Errorf("owner=%q readers=%v", book.Owner, book.Readers)
	}
}

func TestAddItemRemovesItemWhenOwnershipFails(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	path := testutil.WriteFile(t, "Book.epub", []byte("epub"))
	ctx := context.Background()

	fake.FailNext("set_custom", "database is locked")
	id, err := newClient(fake, "alice").AddItem(ctx, path, nil)
	if err == nil {
		t.Fatal("AddItem should fail when the owner cannot be recorded")
	}
	if id != 0 {
		t.Errorf("id = %d, want 0", id)
	}
	if got := fake.Calls("remove"); got != 1 {
		t.Errorf("remove calls = %d, want 1", got)
	}

	items, err := newClient(fake, "bob").ListItems(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("bob sees %d items, want 0", len(items))
	}
}

func TestExportExtraDataMissingFormat(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	id := fake.Put(testutil.FakeBook{Title: "B"})
	c := newClient(fake, "alice")

	fake.FailNext("export", "No book formats found for: fxtl")
	_, err := c.ExportExtraData(context.Background(), id, calibre.DefaultExtraDataName)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var te *calibre.ToolError
	if !errors.As(err, &te) {
		t.Errorf("tool error dropped from chain: %v", err)
	}

	fake.FailNext("export", "database is locked")
	_, err = c.ExportExtraData(context.Background(), id, calibre.DefaultExtraDataName)
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want a plain tool error", err)
	}
}

func TestGetItemHidesForeignItems(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	id := fake.Put(testutil.FakeBook{Title: "Private", Owner: "bob"})

	if _, err := newClient(fake, "alice").GetItem(context.Background(), id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetItem err = %v, want ErrNotFound", err)
	}
	if _, err := newClient(fake, "alice").GetItem(context.Background(), 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetItem(999) err = %v, want ErrNotFound", err)
	}
	it, err := newClient(fake, "bob").GetItem(context.Background(), id)
	if err != nil || it.Title != "Private" {
		t.Errorf("GetItem as owner = %+v, %v", it, err)
	}
}

func TestRetrieveFormat(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	id := fake.Put(testutil.FakeBook{Title: "B", Formats: map[string][]byte{"epub": []byte("EPUB-DATA")}})
	c := newClient(fake, "alice")

	mimeType, data, err := c.RetrieveFormat(context.Background(), id, "EPUB")
	if err != nil {
		t.Fatalf("RetrieveFormat: %v", err)
	}
	if mimeType != "application/epub+zip" || string(data) != "EPUB-DATA" {
		t.Errorf("got %q %q", mimeType, data)
	}
	if _, _, err := c.RetrieveFormat(context.Background(), id, "pdf"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing format err = %v, want ErrNotFound", err)
	}
}

func TestRetrieveCoverThumbnails(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	id := fake.Put(testutil.FakeBook{Title: "B", Cover: testutil.JPEG(t, 800, 1200, 10)})
	c := calibre.NewClient(calibre.Config{CoverBox: imaging.Box{Width: 400, Height: 400}}, fake, nil, nil)

	mimeType, data, err := c.RetrieveCover(context.Background(), id)
	if err != nil {
		t.Fatalf("RetrieveCover: %v", err)
	}
	if mimeType != "image/jpeg" {
		t.Errorf("mime = %q", mimeType)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 266 || b.Dy() != 400 {
		t.Errorf("thumbnail = %dx%d, want 266x400", b.Dx(), b.Dy())
	}
}

func TestExtraDataRoundTrip(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	id := fake.Put(testutil.FakeBook{Title: "B"})
	c := newClient(fake, "alice")
	ctx := context.Background()

	if _, err := c.ExportExtraData(ctx, id, calibre.DefaultExtraDataName); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ExportExtraData before attach err = %v, want ErrNotFound", err)
	}
	if err := c.AttachExtraData(ctx, id, calibre.DefaultExtraDataName, []byte(`{"userdata":{}}`)); err != nil {
		t.Fatalf("AttachExtraData: %v", err)
	}
	got, err := c.ExportExtraData(ctx, id, calibre.DefaultExtraDataName)
	if err != nil {
		t.Fatalf("ExportExtraData: %v", err)
	}
	if string(got) != `{"userdata":{}}` {
		t.Errorf("got %s", got)
	}
}

func TestToolErrorsSurface(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	obs := &toolCounter{}
	c := calibre.NewClient(calibre.Config{}, fake, obs, nil)
	fake.FailNext("remove", "database is locked")

	err := c.RemoveItem(context.Background(), 1)
	var te *calibre.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if te.Output != "database is locked" || te.ExitCode != 1 {
		t.Errorf("ToolError = %+v", te)
	}
	if obs.calls["remove"] != 1 || obs.fails != 1 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestExportCleansTempDirs(t *testing.T) {
	fake := testutil.NewFakeCalibre()
	id := fake.Put(testutil.FakeBook{Title: "B", Formats: map[string][]byte{"cbz": []byte("z")}})
	c := newClient(fake, "alice")

	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	if _, _, err := c.RetrieveFormat(context.Background(), id, "cbz"); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("left behind %v", filepath.Join(tmp, entries[0].Name()))
	}
}
