package index

// ComicIndex defines the interface for catalog operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type ComicIndex interface {
	UpsertComic(c ComicRow) error
	DeleteComic(id string) (bool, error)
	GetChecksum(id string) (string, error)
	GetComic(id string) (*ComicRow, error)
	ListComics(limit, offset int) ([]ComicRow, int, error)
	Search(query string, limit int) ([]ComicRow, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies ComicIndex at compile time.
var _ ComicIndex = (*DB)(nil)
