package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event is one security-relevant domain event: a login, a logout, a
// terminated session, a lock or a rate-limit rejection. Events never carry
// passwords or tokens.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Identifier is the normalized login name on login events.
	Identifier string `json:"identifier,omitempty"`
	// Reason says why a login failed or a session was terminated.
	Reason string `json:"reason,omitempty"`
	// Action and Identity name the limited action and the charged key on
	// rate_limited events, e.g. "login" and "ip:203.0.113.7".
	Action   string `json:"action,omitempty"`
	Identity string `json:"identity,omitempty"`
	// LockedUntil is set on account_locked events.
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	// Terminated counts the sessions ended by a bulk termination.
	Terminated int `json:"terminated,omitempty"`
}

// PartitionKey groups events about one subject: the user when known, else
// the rate-limited identity, else the login identifier.
func (e Event) PartitionKey() string {
	switch {
	case e.UserID != "":
		return e.UserID
	case e.Identity != "":
		return e.Identity
	default:
		return e.Identifier
	}
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel. Emit blocks when
// the channel is full until the context is done.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink writes events to w as JSON lines.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
