package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/chatauth/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var loginRule = Rule{MaxAttempts: 10, Window: time.Minute, Block: 15 * time.Minute}

func newRateTest(t *testing.T) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(kv.New(rdb, kv.Config{})), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestAllowBlocksOnEleventhAttempt(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if err := l.Allow(ctx, "login", "ip:198.51.100.4", loginRule); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
	}

	err := l.Allow(ctx, "login", "ip:198.51.100.4", loginRule)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 11th attempt, got %v", err)
	}
	if got := RetryAfter(err); got != loginRule.Block {
		t.Fatalf("expected retry after %v, got %v", loginRule.Block, got)
	}

	blocked, remaining, err := l.IsBlocked(ctx, Key("login", "ip:198.51.100.4"))
	if err != nil || !blocked {
		t.Fatalf("expected blocked: blocked=%v err=%v", blocked, err)
	}
	if remaining != loginRule.Block {
		t.Fatalf("expected remaining %v, got %v", loginRule.Block, remaining)
	}

	mr.FastForward(5 * time.Minute)
	err = l.Allow(ctx, "login", "ip:198.51.100.4", loginRule)
	if got := RetryAfter(err); got != 10*time.Minute {
		t.Fatalf("expected remaining block 10m while blocked, got %v (%v)", got, err)
	}
}

func TestBlockElapsesIntoFreshWindow(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()
	ctx := context.Background()
	key := Key("login", "ip:198.51.100.4")

	for i := 0; i < 11; i++ {
		_ = l.Allow(ctx, "login", "ip:198.51.100.4", loginRule)
	}
	mr.FastForward(loginRule.Block)

	blocked, _, err := l.IsBlocked(ctx, key)
	if err != nil || blocked {
		t.Fatalf("expected unblocked after block elapses: blocked=%v err=%v", blocked, err)
	}
	if err := l.Allow(ctx, "login", "ip:198.51.100.4", loginRule); err != nil {
		t.Fatalf("expected fresh window to allow, got %v", err)
	}
	n, err := l.Attempts(ctx, key)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected fresh window count 1, got %d", n)
	}
}

func TestBlockMarkerTracksRemainingThroughTTL(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()
	ctx := context.Background()
	key := Key("login", "ip:203.0.113.9")

	if err := l.Block(ctx, key, loginRule); err != nil {
		t.Fatalf("block: %v", err)
	}
	v, err := mr.Get(blockKey(key))
	if err != nil {
		t.Fatalf("marker missing: %v", err)
	}
	if v != "1" {
		t.Fatalf("expected plain marker value, got %q", v)
	}
	if ttl := mr.TTL(blockKey(key)); ttl != loginRule.Block {
		t.Fatalf("expected marker ttl %v, got %v", loginRule.Block, ttl)
	}

	mr.FastForward(time.Minute)
	blocked, remaining, err := l.IsBlocked(ctx, key)
	if err != nil || !blocked {
		t.Fatalf("expected blocked: blocked=%v err=%v", blocked, err)
	}
	if remaining != loginRule.Block-time.Minute {
		t.Fatalf("expected remaining %v, got %v", loginRule.Block-time.Minute, remaining)
	}
}

func TestWindowExpiresWithoutBlocking(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()
	ctx := context.Background()
	key := Key("api", "acct:u-1")

	for i := 0; i < 10; i++ {
		if err := l.Allow(ctx, "api", "acct:u-1", loginRule); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if ttl := mr.TTL(counterKey(key)); ttl != time.Minute {
		t.Fatalf("window ttl must not be extended by later hits, got %v", ttl)
	}

	mr.FastForward(time.Minute)
	if err := l.Allow(ctx, "api", "acct:u-1", loginRule); err != nil {
		t.Fatalf("expected new window, got %v", err)
	}
}

func TestIdentitiesAndActionsAreIsolated(t *testing.T) {
	l, _, done := newRateTest(t)
	defer done()
	ctx := context.Background()
	rule := Rule{MaxAttempts: 1, Window: time.Minute, Block: time.Minute}

	if err := l.Allow(ctx, "login", "ip:a", rule); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Allow(ctx, "login", "ip:a", rule); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected block, got %v", err)
	}
	if err := l.Allow(ctx, "login", "ip:b", rule); err != nil {
		t.Fatalf("other identity must be unaffected: %v", err)
	}
	if err := l.Allow(ctx, "refresh", "ip:a", rule); err != nil {
		t.Fatalf("other action must be unaffected: %v", err)
	}
}

func TestResetClearsCounterAndBlock(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()
	ctx := context.Background()
	rule := Rule{MaxAttempts: 1, Window: time.Minute, Block: time.Hour}
	key := Key("password_reset", "acct:u-1")

	_ = l.Allow(ctx, "password_reset", "acct:u-1", rule)
	_ = l.Allow(ctx, "password_reset", "acct:u-1", rule)
	if !mr.Exists(blockKey(key)) {
		t.Fatal("expected block marker")
	}

	if err := l.Reset(ctx, key); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists(blockKey(key)) || mr.Exists(counterKey(key)) {
		t.Fatal("expected both keys removed")
	}
	if err := l.Allow(ctx, "password_reset", "acct:u-1", rule); err != nil {
		t.Fatalf("expected allow after reset, got %v", err)
	}
}

func TestAllowReportsStoreFailure(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()
	mr.Close()

	err := l.Allow(context.Background(), "login", "ip:a", loginRule)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatal("store failure must not look like a rejection")
	}
}

func TestZeroRuleDisablesLimit(t *testing.T) {
	l, mr, done := newRateTest(t)
	defer done()

	if err := l.Allow(context.Background(), "api", "ip:a", Rule{}); err != nil {
		t.Fatalf("expected disabled rule to allow, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled rule must not touch the store, keys=%v", mr.Keys())
	}
}
