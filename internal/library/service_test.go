package library_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/covercache"
	"github.com/starford/foxtales/internal/library"
	"github.com/starford/foxtales/internal/progress"
	"github.com/starford/foxtales/internal/testutil"
)

type fixture struct {
	fake    *testutil.FakeCalibre
	covers  *covercache.Cache
	factory *library.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := testutil.NewFakeCalibre()
	fake.Users = map[string]string{"alice": "a", "bob": "b"}
	covers, err := covercache.New(10, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := calibre.Config{Library: "/library", UseCredentials: true}
	return &fixture{fake: fake, covers: covers, factory: library.NewFactory(cfg, fake, nil, covers, nil)}
}

func (f *fixture) open(t *testing.T, user, pass string) *library.Service {
	t.Helper()
	svc, err := f.factory.Open(context.Background(), user, pass)
	if err != nil {
		t.Fatalf("Open(%s): %v", user, err)
	}
	return svc
}

func TestOpenChecksCredentials(t *testing.T) {
	f := newFixture(t)
	if _, err := f.factory.Open(context.Background(), "alice", "wrong"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	f.open(t, "alice", "a")
}

func TestOpenCreatesAccessColumnsOnce(t *testing.T) {
	f := newFixture(t)
	f.fake.DropColumns()
	f.open(t, "alice", "a")
	f.open(t, "bob", "b")
	if got := f.fake.Calls("add_custom_column"); got != 2 {
		t.Errorf("add_custom_column calls = %d, want 2", got)
	}
}

func TestListPaging(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"one", "two", "three", "four"} {
		f.fake.Put(testutil.FakeBook{Title: title, Owner: "alice"})
	}
	svc := f.open(t, "alice", "a")
	ctx := context.Background()

	cases := []struct {
		start, limit int
		want         []string
	}{
		{0, 0, []string{"four", "three", "two", "one"}},
		{1, 2, []string{"three", "two"}},
		{3, 10, []string{"one"}},
		{9, 1, nil},
	}
	for _, c := range cases {
		items, err := svc.List(ctx, "", "", c.start, c.limit)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, it := range items {
			got = append(got, it.Title)
		}
		if strings.Join(got, ",") != strings.Join(c.want, ",") {
			t.Errorf("List(%d,%d) = %v, want %v", c.start, c.limit, got, c.want)
		}
	}
	if _, err := svc.List(ctx, "", "", -1, 0); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("negative start err = %v", err)
	}
}

func TestAddAndRemove(t *testing.T) {
	f := newFixture(t)
	alice := f.open(t, "alice", "a")
	bob := f.open(t, "bob", "b")
	ctx := context.Background()

	id, err := alice.Add(ctx, "../../Dune.epub", strings.NewReader("epub bytes"), nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	book, _ := f.fake.Book(id)
	if book.Title != "Dune" || book.Owner != "alice" {
		t.Errorf("stored %+v", book)
	}

	if _, err := bob.Get(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("bob Get err = %v, want ErrNotFound", err)
	}
	if err := alice.SetReaders(ctx, id, []string{"bob"}); err != nil {
		t.Fatalf("SetReaders: %v", err)
	}
	if _, err := bob.Get(ctx, id); err != nil {
		t.Errorf("bob Get after share: %v", err)
	}
	if err := bob.Remove(ctx, id); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("bob Remove err = %v, want ErrForbidden", err)
	}
	if err := bob.SetReaders(ctx, id, nil); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("bob SetReaders err = %v, want ErrForbidden", err)
	}
	if err := alice.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := f.fake.Book(id); ok {
		t.Error("book still present")
	}
}

func TestAddRejectsBadNames(t *testing.T) {
	f := newFixture(t)
	svc := f.open(t, "alice", "a")
	for _, name := range []string{"", "/", "noext"} {
		if _, err := svc.Add(context.Background(), name, strings.NewReader("x"), nil); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("Add(%q) err = %v, want ErrInvalidInput", name, err)
		}
	}
}

func TestCoverIsCached(t *testing.T) {
	f := newFixture(t)
	id := f.fake.Put(testutil.FakeBook{Title: "B", Owner: "alice", Cover: testutil.JPEG(t, 100, 150, 3)})
	svc := f.open(t, "alice", "a")
	ctx := context.Background()

	first, err := svc.Cover(ctx, id)
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	second, err := svc.Cover(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Data, second.Data) || first.MIME != "image/jpeg" {
		t.Error("second cover differs")
	}
	if f.covers.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", f.covers.Loads())
	}

	bob := f.open(t, "bob", "b")
	if _, err := bob.Cover(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cached cover leaked to bob: %v", err)
	}
}

func TestContent(t *testing.T) {
	f := newFixture(t)
	id := f.fake.Put(testutil.FakeBook{Title: "B", Owner: "alice", Formats: map[string][]byte{"epub": []byte("E")}})
	svc := f.open(t, "alice", "a")
	ctx := context.Background()

	mimeType, data, err := svc.Content(ctx, id, "")
	if err != nil {
		t.Fatal(err)
	}
	if mimeType != "application/epub+zip" || string(data) != "E" {
		t.Errorf("got %q %q", mimeType, data)
	}
	if _, _, err := svc.Content(ctx, id, "PDF"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("PDF err = %v, want ErrNotFound", err)
	}
}

func TestProgressIsPerUser(t *testing.T) {
	f := newFixture(t)
	id := f.fake.Put(testutil.FakeBook{Title: "B", Owner: "alice", Readers: []string{"everybody"}})
	alice := f.open(t, "alice", "a")
	bob := f.open(t, "bob", "b")
	ctx := context.Background()

	if _, err := alice.SetProgress(ctx, id, progress.Record{Position: 0.3, LastUpdated: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.SetProgress(ctx, id, progress.Record{Position: 0.9, LastUpdated: 20}); err != nil {
		t.Fatal(err)
	}

	got, err := alice.Progress(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Position != 0.3 {
		t.Errorf("alice position = %v, want 0.3", got.Position)
	}
	d, err := bob.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if d.Progress.Position != 0.9 {
		t.Errorf("bob position = %v, want 0.9", d.Progress.Position)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["title"] != "B" || flat["progress"] == nil {
		t.Errorf("details json = %s", data)
	}

	blob, err := alice.Metadata(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob.UserData) != 2 {
		t.Errorf("blob users = %d, want 2", len(blob.UserData))
	}

	if _, err := alice.SetProgress(ctx, id, progress.Record{Position: -1}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("negative position err = %v", err)
	}
}
