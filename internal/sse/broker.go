// Package sse implements a Server-Sent Events broker for real-time updates
// of the comic catalog and the library.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	// Audience limits delivery to streams opened for that user. Empty
	// means every stream.
	Audience string `json:"-"`
}

type changeReq struct {
	audience string
	resource string
	kind     string
	id       string
}

type subscription struct {
	ch   chan []byte
	user string
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + library.changed throttle timestamp). Public methods communicate
// with this loop through channels, so no mutexes are required.
type Broker struct {
	changedMin time.Duration
	keepAlive  time.Duration
	retry      time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan changeReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets how often idle streams receive a comment line so
// proxies keep them open. Zero disables keepalives.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		b.keepAlive = d
	}
}

// WithRetry sets the reconnection delay advertised to clients.
func WithRetry(d time.Duration) Option {
	return func(b *Broker) {
		b.retry = d
	}
}

// NewBroker creates a new SSE broker. library.changed events are sent at
// most once per throttle interval.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		changedMin:    throttle,
		keepAlive:     30 * time.Second,
		retry:         3 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan changeReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	// Clients map to the user their stream was opened for.
	clients := make(map[chan []byte]string)
	var lastChanged time.Time
	var seq uint64

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		for ch, user := range clients {
			if event.Audience != "" && event.Audience != user {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.user

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.changeCh:
			kind, ok := changeKinds[req.kind]
			if !ok {
				continue
			}
			broadcast(Event{
				Type:     req.resource + "." + kind,
				Data:     map[string]string{"id": req.id},
				Audience: req.audience,
			})

			now := time.Now()
			if now.Sub(lastChanged) >= b.changedMin {
				lastChanged = now
				broadcast(Event{Type: "library.changed", Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client that receives only events without an audience.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeUser("")
}

// SubscribeUser adds a client for user and returns its channel.
func (b *Broker) SubscribeUser(user string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, user: user}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// changeKinds maps index and service verbs to event suffixes.
var changeKinds = map[string]string{
	"created": "added",
	"added":   "added",
	"updated": "updated",
	"deleted": "deleted",
}

// PublishChange publishes "<resource>.<kind>" for id (for example
// comic.added) followed by a throttled library.changed event. Unknown kinds
// are dropped.
func (b *Broker) PublishChange(resource, kind, id string) {
	b.PublishChangeFor("", resource, kind, id)
}

// PublishChangeFor is PublishChange with the id event delivered only to
// streams of user. library.changed still goes to everyone.
func (b *Broker) PublishChangeFor(user, resource, kind, id string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- changeReq{audience: user, resource: resource, kind: kind, id: id}:
	case <-b.stopped:
	}
}

// ComicEvent adapts the broker to an index watcher callback.
func (b *Broker) ComicEvent(kind, id string) {
	b.PublishChange("comic", kind, id)
}

// ServeHTTP streams events without an audience.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.ServeStream(w, r, "")
}

// ServeStream is the SSE endpoint handler (GET /api/events) for user.
func (b *Broker) ServeStream(w http.ResponseWriter, r *http.Request, user string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if b.retry > 0 {
		_, _ = fmt.Fprintf(w, "retry: %d\n\n", b.retry.Milliseconds())
	}
	flusher.Flush()

	ch := b.SubscribeUser(user)
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		ticker := time.NewTicker(b.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
