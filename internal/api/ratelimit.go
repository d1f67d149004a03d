package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles login attempts per username.
type LoginLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*userLimiter
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLoginLimiter allows perMinute attempts per username with the given
// burst. A non-positive perMinute disables limiting.
func NewLoginLimiter(perMinute float64, burst int) *LoginLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &LoginLimiter{
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		entries: make(map[string]*userLimiter),
	}
}

// Allow reports whether username may attempt a login now.
func (l *LoginLimiter) Allow(username string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.entries[username]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[username] = ul
	}
	ul.lastAccess = l.now()
	return ul.limiter.AllowN(ul.lastAccess, 1)
}

// Len returns the number of tracked usernames.
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cleanup drops usernames idle for longer than ttl.
func (l *LoginLimiter) Cleanup(ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for name, ul := range l.entries {
		if now.Sub(ul.lastAccess) > ttl {
			delete(l.entries, name)
			n++
		}
	}
	return n
}

// Run calls Cleanup every interval until ctx is done.
func (l *LoginLimiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Cleanup(2 * interval)
		}
	}
}

// writeRateLimited writes 429 with a Retry-After estimate for one token.
func (l *LoginLimiter) writeRateLimited(w http.ResponseWriter) {
	retry := 1
	if l.limit > 0 && l.limit != rate.Inf {
		retry = max(1, int(math.Ceil(1/float64(l.limit))))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, errorBody("too many login attempts"))
}
