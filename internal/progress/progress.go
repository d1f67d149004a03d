// Package progress keeps per-user reading positions in a single JSON blob
// stored next to each library item.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/checksum"
)

// maxAttempts bounds the optimistic read-modify-write loop of Set.
const maxAttempts = 3

// BlobStore reads and writes named blobs attached to items.
// ExportExtraData returns apperr.ErrNotFound if the item has no such blob.
type BlobStore interface {
	ExportExtraData(ctx context.Context, id int, name string) ([]byte, error)
	AttachExtraData(ctx context.Context, id int, name string, data []byte) error
}

// Record is one user's position in one item. LastUpdated is in seconds since
// the Unix epoch.
type Record struct {
	Position    float64 `json:"position"`
	LastUpdated float64 `json:"lastUpdated"`
}

// Entry is the per-user part of a Blob.
type Entry struct {
	Progress Record `json:"progress"`
}

// Blob is the full metadata file of an item.
type Blob struct {
	UserData map[string]Entry `json:"userdata"`
}

type legacyEntry struct {
	Progress        float64 `json:"progress"`
	ProgressUpdated float64 `json:"progress_updated"`
}

// DecodeBlob parses a metadata file. Files written before the userdata
// envelope existed map usernames directly to {progress, progress_updated}.
func DecodeBlob(data []byte) (Blob, error) {
	blob := Blob{UserData: map[string]Entry{}}
	if len(data) == 0 {
		return blob, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return blob, fmt.Errorf("progress: decode blob: %w", err)
	}
	if _, ok := fields["userdata"]; ok {
		if err := json.Unmarshal(data, &blob); err != nil {
			return Blob{UserData: map[string]Entry{}}, fmt.Errorf("progress: decode blob: %w", err)
		}
		if blob.UserData == nil {
			blob.UserData = map[string]Entry{}
		}
		return blob, nil
	}
	for user, raw := range fields {
		var le legacyEntry
		if err := json.Unmarshal(raw, &le); err != nil {
			return Blob{UserData: map[string]Entry{}}, fmt.Errorf("progress: decode legacy entry %q: %w", user, err)
		}
		blob.UserData[user] = Entry{Progress: Record{Position: le.Progress, LastUpdated: le.ProgressUpdated}}
	}
	return blob, nil
}

// Locks serializes writers per item id. A zero Locks is ready to use.
type Locks struct {
	stripes [64]sync.Mutex
}

func (l *Locks) lock(id int) func() {
	m := &l.stripes[uint(id)%uint(len(l.stripes))]
	m.Lock()
	return m.Unlock
}

// Overlay reads and updates per-user records. It is safe for concurrent use
// as long as all writers of a store share the same Locks.
type Overlay struct {
	store  BlobStore
	name   string
	locks  *Locks
	logger *slog.Logger
	now    func() time.Time
}

// NewOverlay creates an overlay over the blob called name. locks may be nil
// when the overlay is the only writer.
func NewOverlay(store BlobStore, name string, locks *Locks, logger *slog.Logger) *Overlay {
	if locks == nil {
		locks = &Locks{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Overlay{store: store, name: name, locks: locks, logger: logger, now: time.Now}
}

// Get returns the record of user in item id, or the zero record.
func (o *Overlay) Get(ctx context.Context, id int, user string) (Record, error) {
	blob, _, err := o.read(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return blob.UserData[user].Progress, nil
}

// Blob returns the full metadata of item id.
func (o *Overlay) Blob(ctx context.Context, id int) (Blob, error) {
	blob, _, err := o.read(ctx, id)
	return blob, err
}

// Set replaces the record of user in item id and returns what was stored.
// Entries of other users are preserved. A zero LastUpdated is set to now.
func (o *Overlay) Set(ctx context.Context, id int, user string, rec Record) (Record, error) {
	if user == "" {
		return Record{}, fmt.Errorf("progress: empty user: %w", apperr.ErrInvalidInput)
	}
	if rec.LastUpdated == 0 {
		rec.LastUpdated = float64(o.now().UnixMilli()) / 1000
	}

	unlock := o.locks.lock(id)
	defer unlock()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		blob, token, err := o.read(ctx, id)
		if err != nil {
			return Record{}, err
		}
		blob.UserData[user] = Entry{Progress: rec}
		data, err := json.Marshal(blob)
		if err != nil {
			return Record{}, fmt.Errorf("progress: encode blob: %w", err)
		}

		// Another process may have written since the read above.
		_, current, err := o.read(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if current != token {
			o.logger.Warn("progress: concurrent update, retrying",
				slog.Int("item", id), slog.Int("attempt", attempt))
			continue
		}
		if err := o.store.AttachExtraData(ctx, id, o.name, data); err != nil {
			return Record{}, fmt.Errorf("progress: attach blob: %w", err)
		}
		return rec, nil
	}
	return Record{}, fmt.Errorf("progress: item %d: %w", id, apperr.ErrConflict)
}

// read returns the blob of id and its version token. A missing or
// unparseable blob reads as empty.
func (o *Overlay) read(ctx context.Context, id int) (Blob, string, error) {
	data, err := o.store.ExportExtraData(ctx, id, o.name)
	if errors.Is(err, apperr.ErrNotFound) {
		return Blob{UserData: map[string]Entry{}}, "", nil
	}
	if err != nil {
		return Blob{}, "", fmt.Errorf("progress: read blob: %w", err)
	}
	token := checksum.Sum(data)
	blob, err := DecodeBlob(data)
	if err != nil {
		o.logger.Warn("progress: ignoring unreadable blob", slog.Int("item", id), slog.Any("error", err))
	}
	return blob, token, nil
}
