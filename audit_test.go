package chatauth

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	return cfg
}

// waitForEvent reads from sink until an event of eventType arrives and
// returns it together with every event read before it.
func waitForEvent(t *testing.T, sink *ChannelSink, eventType string) (AuditEvent, []AuditEvent) {
	t.Helper()
	var seen []AuditEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev, seen
			}
			seen = append(seen, ev)
		case <-timeout:
			t.Fatalf("no %s event within timeout; saw %d others", eventType, len(seen))
			return AuditEvent{}, nil
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	et, done := newEngineTest(t, testConfig(), sink)
	defer done()

	_, _ = et.engine.Login(WithClientIP(context.Background(), "203.0.113.1"), testLogin, "wrong-password")
	et.login(t, context.Background())
	time.Sleep(30 * time.Millisecond)

	if got := sink.count.Load(); got != 0 {
		t.Fatalf("expected no sink calls when audit is disabled, got %d", got)
	}
}

func TestAuditLoginEventFields(t *testing.T) {
	sink := NewChannelSink(64)
	et, done := newEngineTest(t, auditConfig(), sink)
	defer done()

	ctx := WithClientIP(context.Background(), "198.51.100.33")
	pair := et.login(t, ctx)

	ev, _ := waitForEvent(t, sink, EventUserLoggedIn)
	if ev.UserID != testUserID || ev.SessionID != pair.SessionID {
		t.Fatalf("unexpected subject: %+v", ev)
	}
	if ev.IP != "198.51.100.33" {
		t.Fatalf("expected IP 198.51.100.33, got %q", ev.IP)
	}
	if !ev.Success || ev.Error != "" {
		t.Fatalf("expected successful event, got %+v", ev)
	}
	if !ev.Timestamp.Equal(et.clock.Now()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditAccountLockedEvent(t *testing.T) {
	sink := NewChannelSink(64)
	et, done := newEngineTest(t, auditConfig(), sink)
	defer done()

	for i := 0; i < 5; i++ {
		_, _ = et.engine.Login(context.Background(), testLogin, "wrong-password-123")
	}

	ev, before := waitForEvent(t, sink, EventAccountLocked)
	if ev.UserID != testUserID || ev.Success {
		t.Fatalf("unexpected lock event: %+v", ev)
	}
	want := et.clock.Now().Add(30 * time.Minute)
	if ev.LockedUntil == nil || !ev.LockedUntil.Equal(want) {
		t.Fatalf("expected locked_until %v, got %v", want, ev.LockedUntil)
	}
	if ev.Identifier != testLogin {
		t.Fatalf("expected identifier %q, got %q", testLogin, ev.Identifier)
	}
	failed := 0
	for _, e := range before {
		if e.EventType == EventLoginFailed {
			failed++
		}
	}
	if failed != 5 {
		t.Fatalf("expected 5 login_failed events before the lock, got %d", failed)
	}
}

func TestAuditRateLimitedEventNamesActionAndIdentity(t *testing.T) {
	cfg := auditConfig()
	cfg.RateLimits.Login = RateRule{MaxAttempts: 1, Window: time.Minute, Block: time.Minute}
	sink := NewChannelSink(64)
	et, done := newEngineTest(t, cfg, sink)
	defer done()

	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.50"), "chat-android/7.1")
	_, _ = et.engine.Login(ctx, testLogin, "wrong-password-123")
	_, _ = et.engine.Login(ctx, testLogin, "wrong-password-123")

	ev, before := waitForEvent(t, sink, EventRateLimited)
	if ev.Action != string(ActionLogin) || ev.Identity != "ip:203.0.113.50" {
		t.Fatalf("expected login limit on the client address, got action=%q identity=%q", ev.Action, ev.Identity)
	}
	if ev.Identifier != testLogin || ev.UserAgent != "chat-android/7.1" {
		t.Fatalf("unexpected subject: %+v", ev)
	}
	if ev.Error != string(auditErrRateLimited) || ev.Success {
		t.Fatalf("expected rate_limited failure, got %+v", ev)
	}
	if len(before) == 0 || before[0].Reason != "password_mismatch" {
		t.Fatalf("expected a password_mismatch failure before the limit, got %+v", before)
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"action":"login"`, `"identity":"ip:203.0.113.50"`, `"user_agent":"chat-android/7.1"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}
}

func TestAuditRefreshReuseEvents(t *testing.T) {
	sink := NewChannelSink(64)
	et, done := newEngineTest(t, auditConfig(), sink)
	defer done()
	ctx := context.Background()

	pair := et.login(t, ctx)
	if _, err := et.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_, _ = et.engine.Refresh(ctx, pair.RefreshToken)

	terminated, _ := waitForEvent(t, sink, EventSessionTerminated)
	if terminated.SessionID != pair.SessionID {
		t.Fatalf("expected terminated session %s, got %s", pair.SessionID, terminated.SessionID)
	}
	reuse, _ := waitForEvent(t, sink, EventRefreshReuseDetected)
	if reuse.Error != string(auditErrRefreshReuse) {
		t.Fatalf("expected refresh_reuse error code, got %q", reuse.Error)
	}
}

func TestAuditSessionManagementEvents(t *testing.T) {
	sink := NewChannelSink(64)
	et, done := newEngineTest(t, auditConfig(), sink)
	defer done()
	ctx := context.Background()

	a := et.login(t, ctx)
	b := et.login(t, ctx)
	if err := et.engine.TerminateSession(ctx, testUserID, b.SessionID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := et.engine.LogoutAll(ctx, testUserID); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if err := et.engine.Logout(ctx, testUserID, a.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	ev, _ := waitForEvent(t, sink, EventSessionTerminated)
	if ev.SessionID != b.SessionID {
		t.Fatalf("expected terminated %s, got %s", b.SessionID, ev.SessionID)
	}
	ev, _ = waitForEvent(t, sink, EventAllSessionsTerminated)
	if ev.Terminated != 1 {
		t.Fatalf("expected 1 terminated session, got %d", ev.Terminated)
	}
	waitForEvent(t, sink, EventUserLoggedOut)
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(64)
	et, done := newEngineTest(t, auditConfig(), sink)
	defer done()
	ctx := context.Background()

	_, _ = et.engine.Login(ctx, testLogin, "typo-password-999")
	first := et.login(t, ctx)
	second, err := et.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	_, _ = et.engine.Refresh(ctx, first.RefreshToken)
	if err := et.engine.Logout(ctx, testUserID, second.SessionID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	_, events := waitForEvent(t, sink, EventUserLoggedOut)
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}

	hash := et.accounts.byID[testUserID].PasswordHash
	needles := []string{testPassword, "typo-password-999", hash, first.AccessToken, first.RefreshToken, second.RefreshToken}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		for _, needle := range needles {
			if strings.Contains(string(raw), needle) {
				t.Fatalf("secret leaked into %s event", ev.EventType)
			}
		}
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventUserLoggedIn,
		UserID:    "u1",
		IP:        "127.0.0.1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{EventType: EventUserLoggedOut, UserID: "u1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", len(lines))
	}
	var decoded AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.EventType != EventUserLoggedIn || decoded.UserID != "u1" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
	if !strings.Contains(lines[0], `"user_id":"u1"`) {
		t.Fatalf("expected snake_case user_id in %s", lines[0])
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
