// Package storage defines the comic book file-system abstraction. Every book
// lives in its own directory under the root.
package storage

import (
	"io"
	"time"
)

// MetaFile is the name of the per-book metadata file.
const MetaFile = "meta.json"

// Entry describes one book directory.
type Entry struct {
	ID        string
	Checksum  string // of the book's meta.json
	UpdatedAt time.Time
}

// Provider is the interface for book file operations. Paths are relative to
// the storage root.
type Provider interface {
	// List returns every book directory that holds a meta.json.
	List() ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteFrom atomically writes at most limit bytes from r to path
	// (limit <= 0 means unlimited) and returns the number written.
	WriteFrom(path string, r io.Reader, limit int64) (int64, error)
	// Delete removes the file at path.
	Delete(path string) error
	// RemoveAll removes dir and everything below it.
	RemoveAll(dir string) error
	// Path returns the absolute path of a file under the root.
	Path(path string) (string, error)
}
