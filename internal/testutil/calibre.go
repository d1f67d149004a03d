package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/starford/foxtales/internal/calibre"
)

// FakeBook is one record held by FakeCalibre.
type FakeBook struct {
	Title   string
	Authors string
	Owner   string
	Readers []string
	Formats map[string][]byte // lower-case extension -> content
	Cover   []byte
	Extra   map[string][]byte
}

// FakeCalibre is an in-memory calibredb. It implements calibre.Runner and
// understands the subcommands the gateway issues.
type FakeCalibre struct {
	// Users, when non-nil, maps usernames to passwords and makes every call
	// without valid credentials fail.
	Users map[string]string

	mu      sync.Mutex
	books   map[int]*FakeBook
	columns map[string]int
	nextID  int
	calls   map[string]int
	fail    map[string]string
	last    map[string][]string
}

// NewFakeCalibre returns an empty library that already has the access columns.
func NewFakeCalibre() *FakeCalibre {
	return &FakeCalibre{
		books: make(map[int]*FakeBook),
		columns: map[string]int{
			calibre.OwnerColumn:   1,
			calibre.ReadersColumn: 2,
		},
		nextID: 1,
		calls:  make(map[string]int),
		fail:   make(map[string]string),
		last:   make(map[string][]string),
	}
}

// DropColumns removes all custom columns.
func (f *FakeCalibre) DropColumns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columns = make(map[string]int)
}

// Columns returns the names of the custom columns.
func (f *FakeCalibre) Columns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.columns))
	for name := range f.columns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Put stores b and returns its id.
func (f *FakeCalibre) Put(b FakeBook) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if b.Formats == nil {
		b.Formats = make(map[string][]byte)
	}
	if b.Extra == nil {
		b.Extra = make(map[string][]byte)
	}
	f.books[id] = &b
	return id
}

// Book returns a copy of the record id.
func (f *FakeCalibre) Book(id int) (FakeBook, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return FakeBook{}, false
	}
	return *b, true
}

// Calls returns how often subcommand ran.
func (f *FakeCalibre) Calls(subcommand string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[subcommand]
}

// LastArgs returns the arguments of the latest call to subcommand.
func (f *FakeCalibre) LastArgs(subcommand string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.last[subcommand]...)
}

// FailNext makes the next call to subcommand exit with output.
func (f *FakeCalibre) FailNext(subcommand, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[subcommand] = output
}

// Run implements calibre.Runner.
func (f *FakeCalibre) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user, pass string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--with-library":
			i++
		case "--username":
			i++
			if i < len(args) {
				user = args[i]
			}
		case "--password":
			i++
			if i < len(args) {
				pass = args[i]
			}
		default:
			rest = append(rest, args[i])
		}
	}
	if len(rest) == 0 {
		return nil, f.toolError("", args, "no command given")
	}
	cmd, rest := rest[0], rest[1:]

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cmd]++
	f.last[cmd] = append([]string(nil), args...)

	if out, ok := f.fail[cmd]; ok {
		delete(f.fail, cmd)
		return nil, f.toolError(cmd, args, out)
	}
	if f.Users != nil {
		if want, ok := f.Users[user]; !ok || want != pass {
			return nil, f.toolError(cmd, args, "Invalid username or password")
		}
	}

	switch cmd {
	case "custom_columns":
		return f.customColumns(), nil
	case "add_custom_column":
		return f.addCustomColumn(rest)
	case "list":
		return f.list(rest)
	case "add":
		return f.add(cmd, args, rest)
	case "set_custom":
		return f.setCustom(cmd, args, rest)
	case "remove":
		return f.remove(cmd, args, rest)
	case "export":
		return f.export(cmd, args, rest)
	case "add_format":
		return f.addFormat(cmd, args, rest)
	}
	return nil, f.toolError(cmd, args, "unknown command "+cmd)
}

func (f *FakeCalibre) toolError(cmd string, args []string, output string) error {
	return &calibre.ToolError{Command: cmd, Args: args, ExitCode: 1, Output: output, Err: fmt.Errorf("exit status 1")}
}

func (f *FakeCalibre) customColumns() []byte {
	var sb strings.Builder
	for name, id := range f.columns {
		fmt.Fprintf(&sb, "%s (%d)\n", name, id)
	}
	return []byte(sb.String())
}

func (f *FakeCalibre) addCustomColumn(args []string) ([]byte, error) {
	var pos []string
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			pos = append(pos, a)
		}
	}
	if len(pos) < 3 {
		return nil, f.toolError("add_custom_column", args, "usage: add_custom_column label name datatype")
	}
	f.columns[pos[0]] = len(f.columns) + 1
	return nil, nil
}

func (f *FakeCalibre) list(args []string) ([]byte, error) {
	search := flagValue(args, "--search")
	ids := make([]int, 0, len(f.books))
	for id, b := range f.books {
		if matches(id, b, search) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	records := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		b := f.books[id]
		formats := make([]string, 0, len(b.Formats))
		for ext := range b.Formats {
			formats = append(formats, fmt.Sprintf("/library/%d/book.%s", id, ext))
		}
		sort.Strings(formats)
		readers := b.Readers
		if readers == nil {
			readers = []string{}
		}
		records = append(records, map[string]any{
			"id":                        id,
			"title":                     b.Title,
			"authors":                   b.Authors,
			"formats":                   formats,
			"*" + calibre.OwnerColumn:   b.Owner,
			"*" + calibre.ReadersColumn: readers,
			"uuid":                      fmt.Sprintf("uuid-%d", id),
		})
	}
	return json.Marshal(records)
}

func matches(id int, b *FakeBook, search string) bool {
	if search == "" {
		return true
	}
	if v, ok := strings.CutPrefix(search, "id:"); ok {
		return v == strconv.Itoa(id)
	}
	return strings.Contains(strings.ToLower(b.Title), strings.ToLower(search))
}

func (f *FakeCalibre) add(cmd string, all, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, f.toolError(cmd, all, "no files given")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, f.toolError(cmd, all, err.Error())
	}
	base := filepath.Base(args[0])
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	id := f.nextID
	f.nextID++
	f.books[id] = &FakeBook{
		Title:   strings.TrimSuffix(base, filepath.Ext(base)),
		Formats: map[string][]byte{ext: data},
		Extra:   make(map[string][]byte),
	}
	return []byte(fmt.Sprintf("Added book ids: %d\n", id)), nil
}

func (f *FakeCalibre) book(cmd string, all []string, v string) (int, *FakeBook, error) {
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil, f.toolError(cmd, all, "invalid id "+v)
	}
	b, ok := f.books[id]
	if !ok {
		return 0, nil, f.toolError(cmd, all, fmt.Sprintf("No book with id: %d", id))
	}
	return id, b, nil
}

func (f *FakeCalibre) setCustom(cmd string, all, args []string) ([]byte, error) {
	if len(args) < 3 {
		return nil, f.toolError(cmd, all, "usage: set_custom column id value")
	}
	_, b, err := f.book(cmd, all, args[1])
	if err != nil {
		return nil, err
	}
	switch args[0] {
	case calibre.OwnerColumn:
		b.Owner = args[2]
	case calibre.ReadersColumn:
		b.Readers = nil
		for _, r := range strings.Split(args[2], ",") {
			if r = strings.TrimSpace(r); r != "" {
				b.Readers = append(b.Readers, r)
			}
		}
	default:
		return nil, f.toolError(cmd, all, "no such column "+args[0])
	}
	return nil, nil
}

func (f *FakeCalibre) remove(cmd string, all, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, f.toolError(cmd, all, "no ids given")
	}
	id, _, err := f.book(cmd, all, args[0])
	if err != nil {
		return nil, err
	}
	delete(f.books, id)
	return nil, nil
}

func (f *FakeCalibre) export(cmd string, all, args []string) ([]byte, error) {
	dir := flagValue(args, "--to-dir")
	if dir == "" || len(args) == 0 {
		return nil, f.toolError(cmd, all, "usage: export --to-dir dir id")
	}
	id, b, err := f.book(cmd, all, args[len(args)-1])
	if err != nil {
		return nil, err
	}
	wanted := strings.Split(flagValue(args, "--formats"), ",")
	for _, ext := range wanted {
		if data, ok := b.Formats[ext]; ok {
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.%s", id, ext)), data, 0o644); err != nil {
				return nil, err
			}
		}
		if ext == "jpg" && b.Cover != nil && !hasFlag(args, "--dont-save-cover") {
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.jpg", id)), b.Cover, 0o644); err != nil {
				return nil, err
			}
		}
	}
	if !hasFlag(args, "--dont-save-extra-files") && len(b.Extra) > 0 {
		dataDir := filepath.Join(dir, "data")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		for name, data := range b.Extra {
			if err := os.WriteFile(filepath.Join(dataDir, name), data, 0o644); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func (f *FakeCalibre) addFormat(cmd string, all, args []string) ([]byte, error) {
	if !hasFlag(args, "--as-extra-data-file") {
		return nil, f.toolError(cmd, all, "only extra data files are supported")
	}
	var pos []string
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			pos = append(pos, a)
		}
	}
	if len(pos) < 2 {
		return nil, f.toolError(cmd, all, "usage: add_format --as-extra-data-file id file")
	}
	_, b, err := f.book(cmd, all, pos[0])
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(pos[1])
	if err != nil {
		return nil, f.toolError(cmd, all, err.Error())
	}
	b.Extra[filepath.Base(pos[1])] = data
	return nil, nil
}

func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}
