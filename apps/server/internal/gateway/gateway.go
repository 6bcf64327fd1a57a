// Package gateway exposes the contest over HTTP: JSON actions for operators
// and SSE / WebSocket streams for viewers.
package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"putting-live/apps/server/internal/auth"
	"putting-live/apps/server/internal/contest"
	"putting-live/apps/server/internal/room"
	"putting-live/apps/server/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // viewers are read-only and unauthenticated
	},
}

type Options struct {
	WriteTimeout time.Duration
	Heartbeat    time.Duration
}

type Gateway struct {
	svc          *contest.Service
	admin        *auth.AdminKey
	writeTimeout time.Duration
	pongWait     time.Duration
}

func New(svc *contest.Service, admin *auth.AdminKey, opts Options) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = room.DefaultHeartbeat
	}
	return &Gateway{
		svc:          svc,
		admin:        admin,
		writeTimeout: opts.WriteTimeout,
		pongWait:     2*opts.Heartbeat + opts.WriteTimeout,
	}
}

func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/competitions/{id}/rooms/{mode}/snapshot", g.handleSnapshot)
	mux.HandleFunc("GET /api/competitions/{id}/rooms/{mode}/events", g.handleEvents)
	mux.HandleFunc("GET /api/competitions/{id}/rooms/{mode}/ws", g.handleWebSocket)

	mux.HandleFunc("POST /api/competitions/{id}/putting/start", g.admin.Require(g.handleStartGame))
	mux.HandleFunc("POST /api/competitions/{id}/putting/reset", g.admin.Require(g.handleResetGame))
	mux.HandleFunc("POST /api/competitions/{id}/putting/attempts", g.admin.Require(g.handleSubmitAttempt))
	mux.HandleFunc("GET /api/competitions/{id}/putting/attempts", g.admin.Require(g.handleListAttempts))

	mux.HandleFunc("POST /api/competitions/{id}/draw", g.admin.Require(g.handleDraw))
	mux.HandleFunc("POST /api/competitions/{id}/draw/reset", g.admin.Require(g.handleResetDraw))

	mux.HandleFunc("POST /api/competitions/{id}/final-game/entrants/{checkinId}", g.admin.Require(g.handleConfirmEntrant))
	mux.HandleFunc("DELETE /api/competitions/{id}/final-game/entrants/{participantId}", g.admin.Require(g.handleRemoveEntrant))
}

func (g *Gateway) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	key, err := roomKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := g.svc.Snapshot(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, snap)
}

// handleEvents holds an SSE stream open until the viewer leaves or a write
// to it fails.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	key, err := roomKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sse, err := stream.NewSSE(w, r, g.writeTimeout)
	if err != nil {
		log.Printf("[Gateway] SSE setup failed for %s: %v", key, err)
		return
	}
	g.attach(r, key, sse)
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key, err := roomKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Upgrade error: %v", err)
		return
	}
	binary := r.URL.Query().Get("format") == "proto"
	g.attach(r, key, stream.NewWebSocket(conn, binary, g.writeTimeout, g.pongWait))
}

func (g *Gateway) attach(r *http.Request, key room.Key, wr stream.Writer) {
	rm, id, err := g.svc.Rooms().Subscribe(r.Context(), key, wr, nil)
	if err != nil {
		log.Printf("[Gateway] Subscribe to %s failed: %v", key, err)
		_ = wr.Close()
		return
	}
	<-wr.Done()
	rm.Unsubscribe(id)
}
