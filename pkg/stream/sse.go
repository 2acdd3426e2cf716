package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DoneSentinel terminates every stream. It is not valid JSON, so no
// payload can be mistaken for it.
const DoneSentinel = "[DONE]"

const DefaultKeepalive = 15 * time.Second

var ErrClosed = errors.New("stream already terminated")

// SSEWriter serializes events onto one response. After Done nothing else
// can be written.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	done    bool
	err     error
}

// NewSSE prepares w for event streaming. It fails when w cannot flush.
func NewSSE(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes v as one data event.
func (s *SSEWriter) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write("data: " + string(raw) + "\n\n")
}

func (s *SSEWriter) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

// Done writes the terminal sentinel. Only the first call writes.
func (s *SSEWriter) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrClosed
	}
	s.done = true
	return s.writeLocked("data: " + DoneSentinel + "\n\n")
}

func (s *SSEWriter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *SSEWriter) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrClosed
	}
	return s.writeLocked(frame)
}

func (s *SSEWriter) writeLocked(frame string) error {
	if s.err != nil {
		return s.err
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.err = fmt.Errorf("sse write: %w", err)
		return s.err
	}
	s.flusher.Flush()
	return nil
}

// Pump copies events to s until events is closed, then writes the
// sentinel. While idle it writes keepalive comments. It returns early,
// without the sentinel, when ctx ends or the client stops accepting writes.
func Pump[T any](ctx context.Context, s *SSEWriter, events <-chan T, keepalive time.Duration) error {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return s.Done()
			}
			if err := s.Send(ev); err != nil {
				return err
			}
			ticker.Reset(keepalive)
		case <-ticker.C:
			if err := s.Comment("keepalive"); err != nil {
				return err
			}
		}
	}
}
