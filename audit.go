package chatauth

import (
	"io"

	"github.com/MrEthical07/chatauth/internal/audit"
)

// Domain event names emitted through the audit sink.
const (
	EventUserLoggedIn          = "user_logged_in"
	EventUserLoggedOut         = "user_logged_out"
	EventSessionTerminated     = "session_terminated"
	EventAllSessionsTerminated = "all_sessions_terminated"
	EventLoginFailed           = "login_failed"
	EventAccountLocked         = "account_locked"
	EventRateLimited           = "rate_limited"
	EventRefreshReuseDetected  = "refresh_reuse_detected"
)

// AuditEvent is one domain event. It never carries passwords or tokens.
type AuditEvent = audit.Event

// AuditSink receives domain events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events to a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
