package stream

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"putting-live/apperr"
	"putting-live/apps/server/internal/codec"
)

// WebSocket writes frames to a gorilla connection. Snapshots go out as JSON
// text messages, or as protobuf Struct binary messages when Binary is set.
// Heartbeats become ping control frames.
type WebSocket struct {
	conn    *websocket.Conn
	binary  bool
	timeout time.Duration

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocket starts the read pump that detects peer close. pongWait bounds
// how long the peer may stay silent, so it must exceed the heartbeat interval.
func NewWebSocket(conn *websocket.Conn, binary bool, writeTimeout, pongWait time.Duration) *WebSocket {
	ws := &WebSocket{
		conn:    conn,
		binary:  binary,
		timeout: writeTimeout,
		done:    make(chan struct{}),
	}
	go ws.readPump(pongWait)
	return ws
}

func (ws *WebSocket) readPump(pongWait time.Duration) {
	defer ws.Close()

	ws.conn.SetReadLimit(4096)
	if pongWait > 0 {
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		ws.conn.SetPongHandler(func(string) error {
			return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		// Viewers never send data; reads only surface close and pong frames.
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}
	}
}

func (ws *WebSocket) WriteFrame(f *codec.Frame) error {
	select {
	case <-ws.done:
		return ErrWriterClosed
	default:
	}

	deadline := time.Now().Add(ws.timeout)
	if f.IsHeartbeat() {
		if err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			return apperr.Transport("ws ping", err)
		}
		return nil
	}

	msgType, payload := websocket.TextMessage, f.JSON()
	if ws.binary {
		raw, err := f.Proto()
		if err != nil {
			return apperr.Transport("ws encode", err)
		}
		msgType, payload = websocket.BinaryMessage, raw
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	_ = ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(msgType, payload); err != nil {
		return apperr.Transport("ws write", err)
	}
	return nil
}

func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) Done() <-chan struct{} {
	return ws.done
}
