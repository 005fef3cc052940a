package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is the audit record emitted for every challenge and token
// lifecycle operation. Identity is always masked before it gets here. ID is
// unique per event so downstream stores can drop redeliveries.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Identity  string            `json:"identity,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Purpose   string            `json:"purpose,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives events on the dispatcher goroutine. Emit must not retain ctx.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a reader, mostly tests. Emit waits for room
// until ctx ends.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line, each in a single Write.
type JSONWriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	s := &JSONWriterSink{w: w}
	s.enc = json.NewEncoder(&s.buf)
	return s
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.w == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := s.enc.Encode(event); err != nil {
		return
	}
	_, _ = s.w.Write(s.buf.Bytes())
}
