// Package calibre drives the calibredb command-line tool and turns its output
// into typed records. Every operation is one synchronous subprocess call;
// failures surface as *ToolError and are never retried.
package calibre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/foxtales/internal/access"
	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/imaging"
)

// DefaultExtraDataName is the extra data file holding per-user progress.
const DefaultExtraDataName = "metadata.fxtl"

// ErrUnexpectedOutput reports calibredb output that could not be parsed.
var ErrUnexpectedOutput = errors.New("calibre: unexpected output")

// Observer receives one call per calibredb invocation.
type Observer interface {
	ObserveTool(command string, took time.Duration, err error)
}

// Config binds a Client to a library and a user.
type Config struct {
	Binary         string
	Library        string
	Username       string
	Password       string
	UseCredentials bool
	CoverBox       imaging.Box
}

// Client is a calibredb gateway acting on behalf of one user.
type Client struct {
	cfg    Config
	runner Runner
	obs    Observer
	logger *slog.Logger
}

// NewClient creates a gateway. obs may be nil.
func NewClient(cfg Config, runner Runner, obs Observer, logger *slog.Logger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "calibredb"
	}
	if cfg.CoverBox.Width == 0 && cfg.CoverBox.Height == 0 {
		cfg.CoverBox = imaging.Box{Width: 400, Height: 400}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, runner: runner, obs: obs, logger: logger}
}

// Username returns the user the gateway acts for.
func (c *Client) Username() string {
	return c.cfg.Username
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.cfg.Library != "" {
		args = append(args, "--with-library", c.cfg.Library)
	}
	if c.cfg.UseCredentials {
		args = append(args, "--username", c.cfg.Username, "--password", c.cfg.Password)
	}
	start := time.Now()
	out, err := c.runner.Run(ctx, c.cfg.Binary, args...)
	if c.obs != nil {
		c.obs.ObserveTool(subcommand(args), time.Since(start), err)
	}
	return out, err
}

var customColumnRe = regexp.MustCompile(`^(\S+)\s+\((\d+)\)$`)

// CustomColumns returns the library's custom columns by name.
func (c *Client) CustomColumns(ctx context.Context) (map[string]int, error) {
	out, err := c.run(ctx, "custom_columns")
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int)
	for _, line := range strings.Split(string(out), "\n") {
		m := customColumnRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[2])
		cols[m[1]] = id
	}
	return cols, nil
}

// Authenticate verifies the gateway's credentials with a cheap read-only call.
func (c *Client) Authenticate(ctx context.Context) error {
	if _, err := c.CustomColumns(ctx); err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return fmt.Errorf("%w: %s", apperr.ErrUnauthorized, te.Output)
		}
		return err
	}
	return nil
}

// EnsureCustomColumns creates the owner and readers columns if missing.
func (c *Client) EnsureCustomColumns(ctx context.Context) error {
	cols, err := c.CustomColumns(ctx)
	if err != nil {
		return err
	}
	if _, ok := cols[OwnerColumn]; !ok {
		c.logger.Info("calibre: adding custom column", slog.String("column", OwnerColumn))
		if _, err := c.run(ctx, "add_custom_column", OwnerColumn, "Added by", "text"); err != nil {
			return err
		}
	}
	if _, ok := cols[ReadersColumn]; !ok {
		c.logger.Info("calibre: adding custom column", slog.String("column", ReadersColumn))
		if _, err := c.run(ctx, "add_custom_column", "--is-multiple", ReadersColumn, "Users with Access", "text"); err != nil {
			return err
		}
	}
	return nil
}

// ListItems runs a list query and returns the records the user may see,
// newest first. An empty fields value means all fields.
func (c *Client) ListItems(ctx context.Context, query, fields string) ([]Item, error) {
	args := []string{"list", "--fields", listFields(fields), "--for-machine"}
	if query != "" {
		args = append(args, "--search", query)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	items, err := ParseList(out)
	if err != nil {
		return nil, err
	}
	items = access.Filter(items, c.cfg.Username, func(it Item) (string, []string) {
		return it.Owner, it.Readers
	})
	slices.Reverse(items)
	return items, nil
}

// GetItem returns a single visible record.
func (c *Client) GetItem(ctx context.Context, id int) (Item, error) {
	items, err := c.ListItems(ctx, fmt.Sprintf("id:%d", id), "")
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("calibre: item %d: %w", id, apperr.ErrNotFound)
}

// AddItem adds the file at path and records ownership. The first owner is
// stored as the item owner, any further owners become readers. Without
// owners the gateway's user owns the item. If ownership cannot be recorded
// the item is removed again, since an item without owner and readers is
// visible to everybody.
func (c *Client) AddItem(ctx context.Context, path string, owners []string) (int, error) {
	out, err := c.run(ctx, "add", path)
	if err != nil {
		return 0, err
	}
	id, err := ParseAddedID(out)
	if err != nil {
		return 0, err
	}

	owner := c.cfg.Username
	var readers []string
	if len(owners) > 0 {
		owner, readers = owners[0], owners[1:]
	}
	if err := c.SetCustomColumn(ctx, OwnerColumn, id, owner); err != nil {
		c.discard(ctx, id)
		return 0, err
	}
	if err := c.SetReaders(ctx, id, readers); err != nil {
		c.discard(ctx, id)
		return 0, err
	}
	return id, nil
}

// discard removes a half-added item. Failures are only logged.
func (c *Client) discard(ctx context.Context, id int) {
	if err := c.RemoveItem(context.WithoutCancel(ctx), id); err != nil {
		c.logger.Error("calibre: remove partially added item",
			slog.Int("id", id), slog.String("error", err.Error()))
	}
}

// RemoveItem deletes an item from the library.
func (c *Client) RemoveItem(ctx context.Context, id int) error {
	_, err := c.run(ctx, "remove", strconv.Itoa(id))
	return err
}

// SetCustomColumn sets column of item id to value.
func (c *Client) SetCustomColumn(ctx context.Context, column string, id int, value string) error {
	_, err := c.run(ctx, "set_custom", column, strconv.Itoa(id), value)
	return err
}

// SetReaders replaces the readers of item id.
func (c *Client) SetReaders(ctx context.Context, id int, readers []string) error {
	return c.SetCustomColumn(ctx, ReadersColumn, id, strings.Join(readers, ","))
}

// RetrieveFormat exports the file of item id in format.
func (c *Client) RetrieveFormat(ctx context.Context, id int, format string) (string, []byte, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	var mimeType string
	var data []byte
	err := c.export(ctx, id, []string{
		"--dont-update-metadata", "--dont-save-extra-files", "--dont-write-opf", "--dont-save-cover",
		"--formats", format,
	}, func(dir string) error {
		file, err := firstFile(dir)
		if err != nil {
			return fmt.Errorf("calibre: item %d format %s: %w", id, format, err)
		}
		data, err = os.ReadFile(file)
		mimeType = MIMEType(file)
		return err
	})
	return mimeType, data, err
}

// RetrieveCover exports the cover of item id as a JPEG thumbnail.
func (c *Client) RetrieveCover(ctx context.Context, id int) (string, []byte, error) {
	var thumb []byte
	err := c.export(ctx, id, []string{
		"--dont-save-extra-files", "--dont-update-metadata", "--dont-write-opf",
		"--formats", "jpg,jpeg,png,gif",
	}, func(dir string) error {
		file, err := firstFile(dir)
		if err != nil {
			return fmt.Errorf("calibre: cover of item %d: %w", id, err)
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		thumb, err = imaging.Thumbnail(raw, c.cfg.CoverBox, imaging.DefaultQuality)
		return err
	})
	return "image/jpeg", thumb, err
}

// ExportExtraData returns the extra data file name of item id, or
// apperr.ErrNotFound if the item has none.
func (c *Client) ExportExtraData(ctx context.Context, id int, name string) ([]byte, error) {
	var data []byte
	err := c.export(ctx, id, []string{
		"--dont-update-metadata", "--dont-write-opf", "--dont-save-cover",
		"--formats", "fxtl",
	}, func(dir string) error {
		dataDir := filepath.Join(dir, "data")
		file := filepath.Join(dataDir, name)
		if _, err := os.Stat(file); err != nil {
			// Older calibre versions nest the data dir under the template name.
			if file, err = findExtraFile(dir, name); err != nil {
				return fmt.Errorf("calibre: extra data %s of item %d: %w", name, id, apperr.ErrNotFound)
			}
		}
		var err error
		data, err = os.ReadFile(file)
		return err
	})
	if te := (*ToolError)(nil); errors.As(err, &te) && missingFormatRe.MatchString(te.Output) {
		return nil, fmt.Errorf("calibre: extra data %s of item %d: %w: %w", name, id, apperr.ErrNotFound, err)
	}
	return data, err
}

// missingFormatRe matches export failures for items without the requested
// format or extra files.
var missingFormatRe = regexp.MustCompile(`(?i)no (book )?formats? (found|available)|no such format|no extra files`)

// AttachExtraData stores data as extra data file name of item id.
func (c *Client) AttachExtraData(ctx context.Context, id int, name string, data []byte) error {
	dir, err := os.MkdirTemp("", "foxtales-extra-*")
	if err != nil {
		return fmt.Errorf("calibre: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(file, data, 0o600); err != nil {
		return fmt.Errorf("calibre: write extra data: %w", err)
	}
	_, err = c.run(ctx, "add_format", "--as-extra-data-file", strconv.Itoa(id), file)
	return err
}

func (c *Client) export(ctx context.Context, id int, flags []string, read func(dir string) error) error {
	dir, err := os.MkdirTemp("", "foxtales-export-*")
	if err != nil {
		return fmt.Errorf("calibre: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	args := append([]string{"export"}, flags...)
	args = append(args, "--template", "{id}", "--to-dir", dir, strconv.Itoa(id))
	if _, err := c.run(ctx, args...); err != nil {
		return err
	}
	return read(dir)
}

var digitsRe = regexp.MustCompile(`\d+`)

// ParseAddedID extracts the new item id from the output of "calibredb add",
// which reports it as the first run of digits ("Added book ids: 42").
func ParseAddedID(out []byte) (int, error) {
	m := digitsRe.Find(out)
	if m == nil {
		return 0, fmt.Errorf("%w from add: %q", ErrUnexpectedOutput, strings.TrimSpace(string(out)))
	}
	id, err := strconv.Atoi(string(m))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w from add: %q", ErrUnexpectedOutput, strings.TrimSpace(string(out)))
	}
	return id, nil
}

// ParseList decodes the JSON array printed by "calibredb list --for-machine".
func ParseList(out []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, fmt.Errorf("%w from list: %v", ErrUnexpectedOutput, err)
	}
	return items, nil
}

// listFields makes sure the access columns are always requested.
func listFields(fields string) string {
	fields = strings.TrimSpace(fields)
	if fields == "" || fields == "all" {
		return "all"
	}
	for _, col := range []string{"*" + OwnerColumn, "*" + ReadersColumn} {
		if !strings.Contains(fields, col) {
			fields += "," + col
		}
	}
	return fields
}

var formatMIME = map[string]string{
	".epub": "application/epub+zip",
	".cbz":  "application/vnd.comicbook+zip",
	".cbr":  "application/vnd.comicbook-rar",
	".cb7":  "application/x-cb7",
	".mobi": "application/x-mobipocket-ebook",
	".azw3": "application/vnd.amazon.ebook",
	".pdf":  "application/pdf",
	".txt":  "text/plain; charset=utf-8",
}

// MIMEType guesses the content type of an exported file.
func MIMEType(file string) string {
	ext := strings.ToLower(filepath.Ext(file))
	if t, ok := formatMIME[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func firstFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", apperr.ErrNotFound
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

func findExtraFile(dir, name string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return err
		}
		if !d.IsDir() && d.Name() == name && filepath.Base(filepath.Dir(p)) == "data" {
			found = p
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", apperr.ErrNotFound
	}
	return found, nil
}
