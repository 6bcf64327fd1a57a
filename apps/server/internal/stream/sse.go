package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"putting-live/apperr"
	"putting-live/apps/server/internal/codec"
)

// SSE writes frames as a text/event-stream response.
type SSE struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSE sends the stream headers and ties the writer's lifetime to the
// request context.
func NewSSE(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*SSE, error) {
	s := &SSE{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: writeTimeout,
		done:    make(chan struct{}),
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := s.rc.Flush(); err != nil {
		return nil, apperr.Transport("sse flush", err)
	}

	go func() {
		select {
		case <-r.Context().Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *SSE) WriteFrame(f *codec.Frame) error {
	select {
	case <-s.done:
		return ErrWriterClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeout > 0 {
		if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return apperr.Transport("sse deadline", err)
		}
	}
	if _, err := s.w.Write(f.SSE()); err != nil {
		return apperr.Transport("sse write", err)
	}
	if err := s.rc.Flush(); err != nil {
		return apperr.Transport("sse flush", err)
	}
	return nil
}

func (s *SSE) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *SSE) Done() <-chan struct{} {
	return s.done
}
