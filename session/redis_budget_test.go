package session

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/chatauth/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis hook counting standalone commands and pipeline
// round-trips separately.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) expect(t *testing.T, op string, commands, pipelines int64) {
	t.Helper()
	if got := h.commands.Load(); got != commands {
		t.Fatalf("%s: expected %d standalone commands, got %d", op, commands, got)
	}
	if got := h.pipelines.Load(); got != pipelines {
		t.Fatalf("%s: expected %d pipelines, got %d", op, pipelines, got)
	}
}

func newCountedRegistry(t *testing.T) (*Registry, *cmdCounter, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// Warm the connection before counting so handshake commands are excluded.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	store := kv.New(rdb, kv.Config{DisableRetry: true})
	if err := store.LoadScripts(context.Background()); err != nil {
		t.Fatalf("load scripts: %v", err)
	}
	counter.reset()
	return NewRegistry(store, time.Hour, nil), counter, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestRecordIsOneTransaction(t *testing.T) {
	reg, counter, done := newCountedRegistry(t)
	defer done()

	rec := Record{UserID: "u-1", SessionID: "s-1", CreatedAt: time.Now()}
	if err := reg.Record(context.Background(), rec, "r-1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	counter.expect(t, "record", 0, 1)
}

func TestRevocationCheckIsOneCommand(t *testing.T) {
	reg, counter, done := newCountedRegistry(t)
	defer done()

	revoked, err := reg.IsRevoked(context.Background(), "u-1", "s-1")
	if err != nil || revoked {
		t.Fatalf("expected not revoked, got %v, %v", revoked, err)
	}
	counter.expect(t, "is revoked", 1, 0)
}

func TestRotateIsOneCommand(t *testing.T) {
	reg, counter, done := newCountedRegistry(t)
	defer done()
	ctx := context.Background()

	rec := Record{UserID: "u-1", SessionID: "s-1", CreatedAt: time.Now()}
	if err := reg.Record(ctx, rec, "r-1"); err != nil {
		t.Fatalf("record: %v", err)
	}

	counter.reset()
	if err := reg.Rotate(ctx, "u-1", "s-1", "r-1", "r-2"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	counter.expect(t, "rotate", 1, 0)
}

func TestRevokeBudget(t *testing.T) {
	reg, counter, done := newCountedRegistry(t)
	defer done()
	ctx := context.Background()

	rec := Record{UserID: "u-1", SessionID: "s-1", CreatedAt: time.Now()}
	if err := reg.Record(ctx, rec, "r-1"); err != nil {
		t.Fatalf("record: %v", err)
	}

	counter.reset()
	existed, err := reg.Revoke(ctx, "u-1", "s-1")
	if err != nil || !existed {
		t.Fatalf("expected live session revoked, got %v, %v", existed, err)
	}
	counter.expect(t, "revoke", 1, 1)
}
