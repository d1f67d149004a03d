package calibre

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestParseListDecodesAccessColumns(t *testing.T) {
	out := []byte(`[
		{"id": 3, "title": "Dune", "authors": "Frank Herbert",
		 "formats": ["/lib/Frank Herbert/Dune (3)/Dune.epub", "/lib/x/Dune.tar.gz"],
		 "*fxtl_owner": "alice", "*fxtl_users": ["bob", "everybody"], "series": "Dune"},
		{"id": 4, "title": "Old", "*fxtl_users": "carol, dave"},
		{"id": 5, "title": "Bare", "*fxtl_owner": null, "*fxtl_users": null}
	]`)
	items, err := ParseList(out)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	dune := items[0]
	if dune.ID != 3 || dune.Title != "Dune" || dune.Owner != "alice" {
		t.Errorf("got %+v", dune)
	}
	if want := []string{"EPUB", "GZ"}; !slices.Equal(dune.Formats, want) {
		t.Errorf("formats = %v, want %v", dune.Formats, want)
	}
	if want := []string{"bob", "everybody"}; !slices.Equal(dune.Readers, want) {
		t.Errorf("readers = %v, want %v", dune.Readers, want)
	}
	if string(dune.Fields["series"]) != `"Dune"` {
		t.Errorf("series not kept: %s", dune.Fields["series"])
	}
	if want := []string{"carol", "dave"}; !slices.Equal(items[1].Readers, want) {
		t.Errorf("comma readers = %v, want %v", items[1].Readers, want)
	}
	if items[2].Owner != "" || items[2].Readers != nil {
		t.Errorf("null columns decoded as %+v", items[2])
	}
}

func TestParseListRejectsGarbage(t *testing.T) {
	for _, out := range []string{"", "not json", `{"id": 1}`, `[{"title": "no id"}]`} {
		if _, err := ParseList([]byte(out)); !errors.Is(err, ErrUnexpectedOutput) {
			t.Errorf("ParseList(%q) err = %v, want ErrUnexpectedOutput", out, err)
		}
	}
}

func TestItemMarshalKeepsUnknownFields(t *testing.T) {
	var it Item
	if err := json.Unmarshal([]byte(`{"id": 7, "title": "T", "pubdate": "2020", "formats": ["/a/b.cbz"]}`), &it); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(it)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["pubdate"] != "2020" {
		t.Errorf("pubdate = %v", got["pubdate"])
	}
	if f, _ := got["formats"].([]any); len(f) != 1 || f[0] != "CBZ" {
		t.Errorf("formats = %v", got["formats"])
	}
	if r, ok := got["*fxtl_users"].([]any); !ok || len(r) != 0 {
		t.Errorf("readers = %#v, want empty list", got["*fxtl_users"])
	}
	if !it.HasFormat("cbz") {
		t.Error("HasFormat(cbz) = false")
	}
}

func TestParseAddedID(t *testing.T) {
	cases := []struct {
		out  string
		want int
	}{
		{"Added book ids: 42\n", 42},
		{"Backing up metadata\nAdded book ids: 7, 8", 7},
	}
	for _, c := range cases {
		got, err := ParseAddedID([]byte(c.out))
		if err != nil || got != c.want {
			t.Errorf("ParseAddedID(%q) = %d, %v; want %d", c.out, got, err, c.want)
		}
	}
	for _, out := range []string{"", "The following books were not added as they already exist"} {
		if _, err := ParseAddedID([]byte(out)); !errors.Is(err, ErrUnexpectedOutput) {
			t.Errorf("ParseAddedID(%q) err = %v, want ErrUnexpectedOutput", out, err)
		}
	}
}

func TestListFieldsAddsAccessColumns(t *testing.T) {
	if got := listFields(""); got != "all" {
		t.Errorf("listFields(\"\") = %q", got)
	}
	got := listFields("title,authors")
	for _, col := range []string{"*fxtl_owner", "*fxtl_users"} {
		if !strings.Contains(got, col) {
			t.Errorf("listFields = %q, missing %s", got, col)
		}
	}
	if got := listFields("title,*fxtl_owner,*fxtl_users"); got != "title,*fxtl_owner,*fxtl_users" {
		t.Errorf("listFields duplicated columns: %q", got)
	}
}

func TestRedactHidesPassword(t *testing.T) {
	args := []string{"list", "--username", "u", "--password", "secret"}
	got := redact(args)
	if got[4] != "***" {
		t.Errorf("redact = %v", got)
	}
	if args[4] != "secret" {
		t.Error("redact modified its input")
	}
}

func TestMIMEType(t *testing.T) {
	cases := map[string]string{
		"1.epub": "application/epub+zip",
		"1.CBZ":  "application/vnd.comicbook+zip",
		"1.pdf":  "application/pdf",
		"1.zzz":  "application/octet-stream",
	}
	for name, want := range cases {
		if got := MIMEType(name); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", name, got, want)
		}
	}
}
