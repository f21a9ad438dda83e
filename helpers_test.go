package chatauth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testUserID   = "u-1"
	testLogin    = "alice@example.com"
	testPassword = "correct-password-123"
)

// memoryAccounts is an in-process AccountRepository that also mirrors lockout state.
type memoryAccounts struct {
	mu           sync.Mutex
	byID         map[string]Account
	byIdentifier map[string]string
	findCalls    atomic.Int64

	failed   map[string]int
	lockedAt map[string]time.Time
	unlocks  int
	upgrades int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		byID:         map[string]Account{},
		byIdentifier: map[string]string{},
		failed:       map[string]int{},
		lockedAt:     map[string]time.Time{},
	}
}

func (m *memoryAccounts) add(acct Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[acct.ID] = acct
	m.byIdentifier[strings.ToLower(acct.Identifier)] = acct.ID
}

func (m *memoryAccounts) setDisabled(id string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.byID[id]
	acct.Disabled = disabled
	m.byID[id] = acct
}

func (m *memoryAccounts) FindByIdentifier(_ context.Context, identifier string) (Account, error) {
	m.findCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdentifier[identifier]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return m.byID[id], nil
}

func (m *memoryAccounts) FindByID(_ context.Context, id string) (Account, error) {
	m.findCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *memoryAccounts) IncrementFailedAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id]++
	return nil
}

func (m *memoryAccounts) ResetFailedAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = 0
	return nil
}

func (m *memoryAccounts) Lock(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedAt[id] = until
	return nil
}

func (m *memoryAccounts) Unlock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lockedAt, id)
	m.unlocks++
	return nil
}

func (m *memoryAccounts) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	acct.PasswordHash = hash
	m.byID[id] = acct
	m.upgrades++
	return nil
}

func (m *memoryAccounts) hashUpgrades() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upgrades
}

func (m *memoryAccounts) failures(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[id]
}

func (m *memoryAccounts) lockedUntil(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.lockedAt[id]
	return until, ok
}

// testClock drives token, lockout and session timestamps together with
// miniredis key expiry.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(mr *miniredis.Miniredis, d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	mr.FastForward(d)
}

type engineTest struct {
	engine   *Engine
	accounts *memoryAccounts
	mr       *miniredis.Miniredis
	clock    *testClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngineTest(t testing.TB, cfg Config, sink AuditSink) (*engineTest, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	accounts := newMemoryAccounts()
	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(accounts).
		WithAuditSink(sink).
		WithLogger(discardLogger()).
		WithClock(clock.Now).
		Build()
	if err != nil {
		rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	hash, err := engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	accounts.add(Account{
		ID:           testUserID,
		Identifier:   testLogin,
		PasswordHash: hash,
		Roles:        []string{"member"},
		Permissions:  []string{"chat.send"},
	})

	return &engineTest{engine: engine, accounts: accounts, mr: mr, clock: clock}, func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
}

func (et *engineTest) login(t *testing.T, ctx context.Context) *TokenPair {
	t.Helper()
	pair, err := et.engine.Login(ctx, testLogin, testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return pair
}
