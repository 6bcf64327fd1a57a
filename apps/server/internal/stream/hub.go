// Package stream fans frames out to the open push connections of one room.
package stream

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"putting-live/apps/server/internal/codec"
)

var ErrWriterClosed = errors.New("stream writer closed")

// Writer is one open push connection.
type Writer interface {
	// WriteFrame writes f and returns once it is flushed or failed. Each
	// implementation bounds the write with its own deadline.
	WriteFrame(f *codec.Frame) error
	Close() error
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
}

// maxParallelWrites bounds the goroutines one broadcast may start.
const maxParallelWrites = 64

// Hub is the subscriber set of one room.
type Hub struct {
	name string

	mu   sync.RWMutex
	subs map[string]Writer
}

func NewHub(name string) *Hub {
	return &Hub{
		name: name,
		subs: make(map[string]Writer),
	}
}

// Add registers w and returns its subscriber id.
func (h *Hub) Add(w Writer) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = w
	n := len(h.subs)
	h.mu.Unlock()
	log.Printf("[Hub %s] Subscriber %s added, total: %d", h.name, id, n)
	return id
}

// Remove deregisters id and reports whether it was present.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		log.Printf("[Hub %s] Subscriber %s removed, total: %d", h.name, id, n)
	}
	return ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast writes f to every subscriber concurrently. Subscribers whose write
// fails are removed and closed. It returns the number of successful writes.
func (h *Hub) Broadcast(f *codec.Frame) int {
	h.mu.RLock()
	targets := make(map[string]Writer, len(h.subs))
	for id, w := range h.subs {
		targets[id] = w
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	g.SetLimit(maxParallelWrites)
	for id, w := range targets {
		g.Go(func() error {
			if err := w.WriteFrame(f); err != nil {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
				log.Printf("[Hub %s] Write to %s failed: %v", h.name, id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range failed {
		if h.Remove(id) {
			_ = targets[id].Close()
		}
	}
	return len(targets) - len(failed)
}

// CloseAll closes and removes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Writer)
	h.mu.Unlock()
	for _, w := range subs {
		_ = w.Close()
	}
}
