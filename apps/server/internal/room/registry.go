package room

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"putting-live/apps/server/internal/stream"
)

// Registry maps room keys to live actors and creates them on demand.
type Registry struct {
	mu        sync.Mutex
	rooms     map[Key]*Room
	heartbeat time.Duration
	loader    Loader
}

func NewRegistry(heartbeat time.Duration, loader Loader) *Registry {
	return &Registry{
		rooms:     make(map[Key]*Room),
		heartbeat: heartbeat,
		loader:    loader,
	}
}

// Get returns the room for key, creating it if needed.
func (g *Registry) Get(key Key) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[key]; ok && !r.IsClosed() {
		return r
	}
	r := New(key, g.heartbeat, g.loader)
	g.rooms[key] = r
	return r
}

// Lookup returns the room for key without creating one.
func (g *Registry) Lookup(key Key) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[key]
	if !ok || r.IsClosed() {
		return nil, false
	}
	return r, true
}

// Subscribe attaches w to the room for key. A room stopped by the sweeper
// between Get and Subscribe is replaced once.
func (g *Registry) Subscribe(ctx context.Context, key Key, w stream.Writer, initial any) (*Room, string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		r := g.Get(key)
		id, err := r.Subscribe(ctx, w, initial)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return r, id, nil
	}
	return nil, "", ErrRoomClosed
}

// Broadcast sends snapshot to the room for key. Without a live room there is
// nobody to notify and the call is a no-op.
func (g *Registry) Broadcast(key Key, snapshot any) int {
	r, ok := g.Lookup(key)
	if !ok {
		return 0
	}
	n, err := r.Broadcast(snapshot)
	if err != nil {
		log.Printf("[Registry] Broadcast to %s failed: %v", key, err)
	}
	return n
}

// Sweep stops and drops rooms idle for at least ttl.
func (g *Registry) Sweep(ttl time.Duration) int {
	g.mu.Lock()
	var idle []*Room
	for key, r := range g.rooms {
		if r.IsIdleFor(ttl) {
			idle = append(idle, r)
			delete(g.rooms, key)
		}
	}
	g.mu.Unlock()

	for _, r := range idle {
		r.Stop()
	}
	if len(idle) > 0 {
		log.Printf("[Registry] Swept %d idle rooms", len(idle))
	}
	return len(idle)
}

// RunSweeper sweeps every interval until ctx is done.
func (g *Registry) RunSweeper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ttl)
		}
	}
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close stops every room.
func (g *Registry) Close() {
	g.mu.Lock()
	rooms := g.rooms
	g.rooms = make(map[Key]*Room)
	g.mu.Unlock()
	for _, r := range rooms {
		r.Stop()
	}
}
