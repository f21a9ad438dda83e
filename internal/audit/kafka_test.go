package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKafkaSinkKeysByUser(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, quietLogger())
	ts := time.Unix(1_700_000_000, 0).UTC()

	sink.Emit(context.Background(), Event{
		Timestamp: ts,
		EventType: "user_logged_in",
		UserID:    "u-1",
		SessionID: "s-1",
		Success:   true,
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u-1" {
		t.Fatalf("expected key u-1, got %q", msg.Key)
	}
	if !msg.Time.Equal(ts) {
		t.Fatalf("expected message time %v, got %v", ts, msg.Time)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.EventType != "user_logged_in" || decoded.SessionID != "s-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestKafkaSinkKeysAnonymousRateLimitByIdentity(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, quietLogger())

	sink.Emit(context.Background(), Event{
		EventType:  "rate_limited",
		Identifier: "alice@example.com",
		Action:     "login",
		Identity:   "ip:198.51.100.4",
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if got := string(w.msgs[0].Key); got != "ip:198.51.100.4" {
		t.Fatalf("expected key ip:198.51.100.4, got %q", got)
	}
	var decoded Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Action != "login" || decoded.Identifier != "alice@example.com" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestKafkaSinkSwallowsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newKafkaSink(w, quietLogger())
	sink.Emit(context.Background(), Event{EventType: "login_failed"})
	if len(w.msgs) != 0 {
		t.Fatal("expected nothing written")
	}
}

func TestKafkaSinkClose(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, nil)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !w.closed {
		t.Fatal("expected writer closed")
	}
}

func TestNewKafkaSinkWithoutBrokers(t *testing.T) {
	sink := NewKafkaSink(nil, "auth-events", nil)
	if sink != nil {
		t.Fatal("expected nil sink without brokers")
	}
	sink.Emit(context.Background(), Event{EventType: "x"})
	if err := sink.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
