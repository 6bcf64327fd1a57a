// Package room runs one actor per (competition, mode) that owns the push
// connections of that view. A room holds no canonical state: it remembers the
// last snapshot it broadcast only to catch subscribers that raced it.
package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"putting-live/apps/server/internal/codec"
	"putting-live/apps/server/internal/stream"
)

// Mode names the view a room serves.
type Mode string

const (
	ModeDraw      Mode = "draw"
	ModeFinalDraw Mode = "final-draw"
	ModePutting   Mode = "putting"
)

func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeDraw, ModeFinalDraw, ModePutting:
		return Mode(raw), true
	}
	return "", false
}

type Key struct {
	CompetitionID int64
	Mode          Mode
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.CompetitionID, k.Mode)
}

// Loader re-reads canonical state for every subscriber that arrives without
// an initial snapshot. Draw countdowns depend on the read time, so a
// broadcast frame is never replayed to a late subscriber.
type Loader func(ctx context.Context, key Key) (any, error)

var ErrRoomClosed = errors.New("room closed")

const DefaultHeartbeat = 29 * time.Second

type eventType int

const (
	eventSubscribe eventType = iota
	eventUnsubscribe
	eventBroadcast
)

type event struct {
	typ      eventType
	writer   stream.Writer
	id       string
	frame    *codec.Frame
	seenSeq  uint64
	response chan result
}

type result struct {
	id        string
	delivered int
	err       error
}

// Room is the actor for one Key.
type Room struct {
	Key Key

	hub       *stream.Hub
	heartbeat time.Duration
	loader    Loader

	mu         sync.RWMutex
	closed     bool
	stopOnce   sync.Once
	emptySince time.Time
	last       *codec.Frame
	seq        uint64

	events  chan event
	done    chan struct{}
	stopped chan struct{}
}

func New(key Key, heartbeat time.Duration, loader Loader) *Room {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	r := &Room{
		Key:        key,
		hub:        stream.NewHub(key.String()),
		heartbeat:  heartbeat,
		loader:     loader,
		emptySince: time.Now(),
		events:     make(chan event, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go r.run()
	log.Printf("[Room %s] Created (heartbeat=%s)", key, heartbeat)
	return r
}

func (r *Room) run() {
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	syncTicker := func() {
		switch n := r.hub.Len(); {
		case n > 0 && ticker == nil:
			ticker = time.NewTicker(r.heartbeat)
			tick = ticker.C
		case n == 0 && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
			log.Printf("[Room %s] Heartbeat stopped", r.Key)
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		close(r.stopped)
	}()

	for {
		select {
		case ev := <-r.events:
			res := r.handleEvent(ev)
			syncTicker()
			r.markEmpty()
			if ev.response != nil {
				ev.response <- res
			}
		case <-tick:
			r.hub.Broadcast(codec.Heartbeat())
			syncTicker()
			r.markEmpty()
		case <-r.done:
			r.hub.CloseAll()
			log.Printf("[Room %s] Actor stopped", r.Key)
			return
		}
	}
}

func (r *Room) handleEvent(ev event) result {
	switch ev.typ {
	case eventSubscribe:
		frame := ev.frame
		r.mu.RLock()
		if r.seq > ev.seenSeq && r.last != nil {
			// A broadcast landed while the caller was loading; it is newer.
			frame = r.last
		}
		r.mu.RUnlock()
		if frame != nil {
			if err := ev.writer.WriteFrame(frame); err != nil {
				_ = ev.writer.Close()
				return result{err: err}
			}
		}
		return result{id: r.hub.Add(ev.writer)}
	case eventUnsubscribe:
		r.hub.Remove(ev.id)
		return result{}
	case eventBroadcast:
		r.mu.Lock()
		r.last = ev.frame
		r.seq++
		r.mu.Unlock()
		n := r.hub.Broadcast(ev.frame)
		if n > 0 {
			log.Printf("[Room %s] Broadcast delivered to %d subscribers", r.Key, n)
		}
		return result{delivered: n}
	default:
		return result{err: fmt.Errorf("unknown room event %d", ev.typ)}
	}
}

func (r *Room) markEmpty() {
	empty := r.hub.Len() == 0
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case empty && r.emptySince.IsZero():
		r.emptySince = time.Now()
	case !empty:
		r.emptySince = time.Time{}
	}
}

func (r *Room) submit(ev event) (result, error) {
	ev.response = make(chan result, 1)

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return result{}, ErrRoomClosed
	}

	select {
	case r.events <- ev:
	case <-r.stopped:
		return result{}, ErrRoomClosed
	}
	select {
	case res := <-ev.response:
		return res, res.err
	case <-r.stopped:
		return result{}, ErrRoomClosed
	}
}

// Subscribe writes the initial snapshot to w and registers it. The snapshot is
// initial when non-nil, else a fresh load, else the last broadcast when the
// room has no loader.
func (r *Room) Subscribe(ctx context.Context, w stream.Writer, initial any) (string, error) {
	r.mu.RLock()
	seen, cached := r.seq, r.last
	r.mu.RUnlock()

	var frame *codec.Frame
	switch {
	case initial != nil:
		f, err := codec.Snapshot(initial)
		if err != nil {
			return "", err
		}
		frame = f
	case r.loader != nil:
		snap, err := r.loader(ctx, r.Key)
		if err != nil {
			return "", err
		}
		f, err := codec.Snapshot(snap)
		if err != nil {
			return "", err
		}
		frame = f
	default:
		frame = cached
	}

	res, err := r.submit(event{typ: eventSubscribe, writer: w, frame: frame, seenSeq: seen})
	if err != nil {
		return "", err
	}
	return res.id, nil
}

func (r *Room) Unsubscribe(id string) {
	_, _ = r.submit(event{typ: eventUnsubscribe, id: id})
}

// Broadcast encodes snapshot once and writes it to every subscriber. It
// returns how many writes succeeded.
func (r *Room) Broadcast(snapshot any) (int, error) {
	f, err := codec.Snapshot(snapshot)
	if err != nil {
		return 0, err
	}
	res, err := r.submit(event{typ: eventBroadcast, frame: f})
	return res.delivered, err
}

// Subscribers reports the current subscriber count.
func (r *Room) Subscribers() int {
	return r.hub.Len()
}

// Stop closes every subscriber and returns once the actor has exited, so no
// writer is touched after Stop returns.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
	})
	<-r.stopped
}

func (r *Room) IsClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// IsIdleFor reports whether the room has had no subscribers for at least ttl.
func (r *Room) IsIdleFor(ttl time.Duration) bool {
	if r.hub.Len() > 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return true
	}
	if r.emptySince.IsZero() {
		return false
	}
	return time.Since(r.emptySince) >= ttl
}
