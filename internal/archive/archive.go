// Package archive reads zip comic archives (CBZ) as an ordered set of pages.
package archive

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/models"
	"github.com/starford/foxtales/internal/natsort"
)

// maxPageBytes bounds a single decompressed page.
const maxPageBytes = 64 << 20

const comicInfoName = "comicinfo.xml"

var pageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// InvalidArchiveError reports an archive that cannot be opened or holds no pages.
type InvalidArchiveError struct {
	Path string
	Err  error
}

func (e *InvalidArchiveError) Error() string {
	return fmt.Sprintf("archive: invalid archive %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *InvalidArchiveError) Unwrap() []error {
	return []error{apperr.ErrInvalidArchive, e.Err}
}

var errNoPages = errors.New("no png/jpg/jpeg pages found")

// Page is one extracted image of an archive.
type Page struct {
	Index      int
	Identifier string
	Title      string
	Name       string
	Data       []byte
}

// MIMEType returns the content type derived from the page extension.
func (p Page) MIMEType() string {
	return MIMEType(p.Name)
}

// Archive is an opened comic archive. Pages are ordered naturally by file name.
type Archive struct {
	id    string
	path  string
	zr    *zip.ReadCloser
	pages []*zip.File
	info  *comicInfo
}

type comicInfo struct {
	Title  string `xml:"Title"`
	Series string `xml:"Series"`
	Number string `xml:"Number"`
}

// Open opens the archive at file. id prefixes every page identifier.
func Open(id, file string) (*Archive, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return nil, &InvalidArchiveError{Path: file, Err: err}
	}

	a := &Archive{id: id, path: file, zr: zr}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || isNoise(f.Name) {
			continue
		}
		base := path.Base(f.Name)
		// Only a root level ComicInfo.xml describes the archive.
		if strings.EqualFold(f.Name, comicInfoName) {
			a.info = readComicInfo(f)
			continue
		}
		if pageExtensions[strings.ToLower(filepath.Ext(base))] {
			a.pages = append(a.pages, f)
		}
	}
	if len(a.pages) == 0 {
		_ = zr.Close()
		return nil, &InvalidArchiveError{Path: file, Err: errNoPages}
	}

	natsort.SortFunc(a.pages, func(f *zip.File) string { return path.Base(f.Name) })
	return a, nil
}

// Close releases the underlying zip reader.
func (a *Archive) Close() error {
	return a.zr.Close()
}

// Len returns the number of pages.
func (a *Archive) Len() int {
	return len(a.pages)
}

// Names returns the page file names in reading order.
func (a *Archive) Names() []string {
	out := make([]string, len(a.pages))
	for i, f := range a.pages {
		out[i] = path.Base(f.Name)
	}
	return out
}

// Title returns the title declared by ComicInfo.xml, or "" when absent.
func (a *Archive) Title() string {
	if a.info == nil {
		return ""
	}
	if t := strings.TrimSpace(a.info.Title); t != "" {
		return t
	}
	series := strings.TrimSpace(a.info.Series)
	if series == "" {
		return ""
	}
	if n := strings.TrimSpace(a.info.Number); n != "" {
		return series + " #" + n
	}
	return series
}

// Chapters lists one chapter per page without reading page data.
func (a *Archive) Chapters() []models.Chapter {
	out := make([]models.Chapter, len(a.pages))
	for i, f := range a.pages {
		out[i] = models.Chapter{
			Identifier: PageIdentifier(a.id, i),
			Title:      stem(path.Base(f.Name)),
			Length:     1,
		}
	}
	return out
}

// CoverIndex returns the index of the cover page: the first page whose name
// contains "cover" (case-insensitive), else the first page.
func (a *Archive) CoverIndex() int {
	for i, f := range a.pages {
		if strings.Contains(strings.ToLower(path.Base(f.Name)), "cover") {
			return i
		}
	}
	return 0
}

// CoverName returns the file name of the cover page.
func (a *Archive) CoverName() string {
	return path.Base(a.pages[a.CoverIndex()].Name)
}

// Cover returns the raw bytes of the cover page.
func (a *Archive) Cover(ctx context.Context) ([]byte, error) {
	return a.Page(ctx, a.CoverIndex())
}

// Page returns a single page by index without extracting the others.
func (a *Archive) Page(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= len(a.pages) {
		return nil, fmt.Errorf("archive: page %d: %w", index, apperr.ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := a.pages[index]
	rc, err := f.Open()
	if err != nil {
		return nil, &InvalidArchiveError{Path: a.path, Err: err}
	}
	defer rc.Close()
	return readLimited(rc)
}

// Pages returns a lazy sequence over every page in reading order. Each
// iteration extracts the archive into its own temporary directory, which is
// removed when the iteration ends, however it ends.
func (a *Archive) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		dir, err := os.MkdirTemp("", "foxtales-cbz-*")
		if err != nil {
			yield(Page{}, fmt.Errorf("archive: temp dir: %w", err))
			return
		}
		defer os.RemoveAll(dir)

		files, err := a.extract(ctx, dir)
		if err != nil {
			yield(Page{}, err)
			return
		}

		for i, file := range files {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			data, err := os.ReadFile(file)
			if err != nil {
				yield(Page{}, fmt.Errorf("archive: read extracted page: %w", err))
				return
			}
			name := path.Base(a.pages[i].Name)
			page := Page{
				Index:      i,
				Identifier: PageIdentifier(a.id, i),
				Title:      stem(name),
				Name:       name,
				Data:       data,
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// extract writes every page into dir under an index-based name so that entry
// paths from the archive never reach the file system.
func (a *Archive) extract(ctx context.Context, dir string) ([]string, error) {
	out := make([]string, 0, len(a.pages))
	for i, f := range a.pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, fmt.Sprintf("%05d%s", i, strings.ToLower(filepath.Ext(f.Name))))
		if err := extractFile(f, dst); err != nil {
			return nil, &InvalidArchiveError{Path: a.path, Err: err}
		}
		out = append(out, dst)
	}
	return out, nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxPageBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > maxPageBytes {
		return fmt.Errorf("page %s exceeds %d bytes", f.Name, maxPageBytes)
	}
	return nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPageBytes {
		return nil, fmt.Errorf("archive: page exceeds %d bytes", maxPageBytes)
	}
	return data, nil
}

func readComicInfo(f *zip.File) *comicInfo {
	rc, err := f.Open()
	if err != nil {
		return nil
	}
	defer rc.Close()
	var info comicInfo
	if err := xml.NewDecoder(io.LimitReader(rc, 1<<20)).Decode(&info); err != nil {
		return nil
	}
	return &info
}

// PageIdentifier builds the chapter identifier of page index of book id.
func PageIdentifier(id string, index int) string {
	return fmt.Sprintf("%s_%05d", id, index)
}

// MIMEType maps a page file name to its image content type.
func MIMEType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func isNoise(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(base, ".") || strings.EqualFold(base, "thumbs.db")
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
