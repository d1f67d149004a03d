// Package session maps opaque bearer tokens to logged-in users.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/foxtales/internal/apperr"
)

// DefaultTTL is used when a store is created without one.
const DefaultTTL = 60 * time.Minute

// Session is one login. Value carries per-session state such as the
// user's library handle.
type Session[T any] struct {
	Token     string
	Username  string
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store keeps sessions. Get returns apperr.ErrNotFound for unknown or
// expired tokens.
type Store[T any] interface {
	Create(username string, value T) (*Session[T], error)
	Get(token string) (*Session[T], error)
	Delete(token string) error
}

// MemoryStore is an in-process Store with a fixed TTL.
type MemoryStore[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session[T]
}

// NewMemoryStore creates a store whose sessions live for ttl.
func NewMemoryStore[T any](ttl time.Duration) *MemoryStore[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore[T]{ttl: ttl, now: time.Now, sessions: make(map[string]*Session[T])}
}

// Create starts a session for username.
func (s *MemoryStore[T]) Create(username string, value T) (*Session[T], error) {
	if username == "" {
		return nil, fmt.Errorf("session: empty username: %w", apperr.ErrInvalidInput)
	}
	now := s.now()
	sess := &Session[T]{
		Token:     uuid.NewString(),
		Username:  username,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns a live session.
func (s *MemoryStore[T]) Get(token string) (*Session[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, fmt.Errorf("session: %w", apperr.ErrNotFound)
	}
	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return nil, fmt.Errorf("session: expired: %w", apperr.ErrNotFound)
	}
	return sess, nil
}

// Delete ends a session. Unknown tokens are ignored.
func (s *MemoryStore[T]) Delete(token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *MemoryStore[T]) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *MemoryStore[T]) Run(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("session: swept expired sessions", slog.Int("count", n))
			}
		}
	}
}
