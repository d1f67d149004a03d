package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/foxtales/internal/apperr"
)

type memStore struct {
	mu      sync.Mutex
	blobs   map[int][]byte
	exports int
	// onExport runs after each export, outside the lock.
	onExport func(n int)
}

func newMemStore() *memStore {
	return &memStore{blobs: map[int][]byte{}}
}

func (s *memStore) ExportExtraData(_ context.Context, id int, _ string) ([]byte, error) {
	s.mu.Lock()
	s.exports++
	n := s.exports
	data, ok := s.blobs[id]
	s.mu.Unlock()
	if s.onExport != nil {
		s.onExport(n)
	}
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return data, nil
}

func (s *memStore) AttachExtraData(_ context.Context, id int, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) put(id int, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = []byte(data)
}

func TestRoundTripKeepsOtherUsers(t *testing.T) {
	store := newMemStore()
	o := NewOverlay(store, "metadata.fxtl", nil, nil)
	ctx := context.Background()

	if _, err := o.Set(ctx, 1, "u1", Record{Position: 0.25, LastUpdated: 100}); err != nil {
		t.Fatalf("Set u1: %v", err)
	}
	if _, err := o.Set(ctx, 1, "u2", Record{Position: 0.75, LastUpdated: 200}); err != nil {
		t.Fatalf("Set u2: %v", err)
	}

	got1, err := o.Get(ctx, 1, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if want := (Record{Position: 0.25, LastUpdated: 100}); got1 != want {
		t.Errorf("u1 = %+v, want %+v", got1, want)
	}
	got2, _ := o.Get(ctx, 1, "u2")
	if want := (Record{Position: 0.75, LastUpdated: 200}); got2 != want {
		t.Errorf("u2 = %+v, want %+v", got2, want)
	}

	var raw map[string]map[string]map[string]Record
	if err := json.Unmarshal(store.blobs[1], &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw["userdata"]) != 2 {
		t.Errorf("blob = %s, want two users under userdata", store.blobs[1])
	}
}

func TestGetDefaults(t *testing.T) {
	store := newMemStore()
	store.put(2, "{not json")
	o := NewOverlay(store, "metadata.fxtl", nil, nil)

	for _, id := range []int{1, 2} {
		got, err := o.Get(context.Background(), id, "u1")
		if err != nil {
			t.Fatalf("Get(%d): %v", id, err)
		}
		if got != (Record{}) {
			t.Errorf("Get(%d) = %+v, want zero record", id, got)
		}
	}
}

func TestSetOverwritesUnreadableBlob(t *testing.T) {
	store := newMemStore()
	store.put(1, "garbage")
	o := NewOverlay(store, "metadata.fxtl", nil, nil)

	if _, err := o.Set(context.Background(), 1, "u1", Record{Position: 1, LastUpdated: 1}); err != nil {
		t.Fatal(err)
	}
	got, _ := o.Get(context.Background(), 1, "u1")
	if got.Position != 1 {
		t.Errorf("Position = %v, want 1", got.Position)
	}
}

func TestLegacyBlob(t *testing.T) {
	store := newMemStore()
	store.put(1, `{"alice": {"progress": 0.5, "progress_updated": 1700000000}}`)
	o := NewOverlay(store, "metadata.fxtl", nil, nil)

	got, err := o.Get(context.Background(), 1, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if want := (Record{Position: 0.5, LastUpdated: 1700000000}); got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := o.Set(context.Background(), 1, "bob", Record{Position: 0.1, LastUpdated: 5}); err != nil {
		t.Fatal(err)
	}
	blob, err := o.Blob(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if blob.UserData["alice"].Progress.Position != 0.5 || blob.UserData["bob"].Progress.Position != 0.1 {
		t.Errorf("blob = %+v", blob)
	}
}

func TestSetStampsLastUpdated(t *testing.T) {
	o := NewOverlay(newMemStore(), "metadata.fxtl", nil, nil)
	o.now = func() time.Time { return time.Unix(1700000000, 500_000_000) }

	got, err := o.Set(context.Background(), 1, "u1", Record{Position: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got.LastUpdated != 1700000000.5 {
		t.Errorf("LastUpdated = %v, want 1700000000.5", got.LastUpdated)
	}
}

func TestSetRejectsEmptyUser(t *testing.T) {
	o := NewOverlay(newMemStore(), "metadata.fxtl", nil, nil)
	if _, err := o.Set(context.Background(), 1, "", Record{}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSetRetriesOnConcurrentWrite(t *testing.T) {
	store := newMemStore()
	o := NewOverlay(store, "metadata.fxtl", nil, nil)
	// An outside writer changes the blob between the first read and its
	// re-check; the second attempt succeeds.
	store.onExport = func(n int) {
		if n == 1 {
			store.put(1, `{"userdata": {"other": {"progress": {"position": 9, "lastUpdated": 9}}}}`)
		}
	}

	if _, err := o.Set(context.Background(), 1, "u1", Record{Position: 1, LastUpdated: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob, _ := o.Blob(context.Background(), 1)
	if blob.UserData["other"].Progress.Position != 9 || blob.UserData["u1"].Progress.Position != 1 {
		t.Errorf("blob = %+v, want both writers kept", blob)
	}
}

func TestSetGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := newMemStore()
	o := NewOverlay(store, "metadata.fxtl", nil, nil)
	var n int
	store.onExport = func(int) {
		n++
		store.put(1, `{"userdata": {}, "n": `+string(rune('0'+n%10))+`}`)
	}

	_, err := o.Set(context.Background(), 1, "u1", Record{Position: 1, LastUpdated: 1})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestConcurrentSetsSameItem(t *testing.T) {
	store := newMemStore()
	locks := &Locks{}
	ctx := context.Background()

	var wg sync.WaitGroup
	users := []string{"a", "b", "c", "d", "e", "f"}
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := NewOverlay(store, "metadata.fxtl", locks, nil)
			if _, err := o.Set(ctx, 1, u, Record{Position: 1, LastUpdated: 1}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	blob, err := NewOverlay(store, "metadata.fxtl", locks, nil).Blob(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob.UserData) != len(users) {
		t.Errorf("got %d users, want %d: lost update", len(blob.UserData), len(users))
	}
}
