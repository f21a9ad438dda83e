package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/chatauth/kv"
)

// Rule is the budget for one action: at most MaxAttempts inside Window,
// after which the identity is blocked for Block.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

// Limiter enforces fixed-window counters with block escalation, keyed by
// action and caller identity.
type Limiter struct {
	store *kv.Store
}

// New creates a rate [Limiter] backed by the given store.
func New(store *kv.Store) *Limiter {
	return &Limiter{store: store}
}

// Key joins an action and identity into the counter key suffix.
func Key(action, identity string) string {
	return action + ":" + identity
}

func counterKey(key string) string {
	return "rl:" + key
}

func blockKey(key string) string {
	return "rlb:" + key
}

// IsBlocked reports whether key carries a block marker and, if so, how long
// the block has left.
func (l *Limiter) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := l.store.TTL(ctx, blockKey(key))
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl > 0 {
		return true, ttl, nil
	}
	// A marker without ttl should never exist; treat it as absent.
	return false, 0, nil
}

// Increment adds one to the window counter for key. The first hit of a
// fresh window sets its ttl to rule.Window.
func (l *Limiter) Increment(ctx context.Context, key string, rule Rule) (int64, error) {
	count, err := l.store.IncrementWindow(ctx, counterKey(key), rule.Window)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Block sets the block marker for key with ttl rule.Block and discards the
// current window so a fresh one starts when the block lifts.
func (l *Limiter) Block(ctx context.Context, key string, rule Rule) error {
	err := l.store.Atomic(ctx, func(b *kv.Batch) {
		b.Set(blockKey(key), "1", rule.Block)
		b.Delete(counterKey(key))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Reset clears both the counter and the block marker for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if _, err := l.store.Delete(ctx, counterKey(key), blockKey(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Attempts returns the current window count for key.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	raw, ok, err := l.store.Get(ctx, counterKey(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

// Allow runs the guard sequence for one attempt: reject while blocked,
// otherwise count the attempt and block once the count exceeds
// rule.MaxAttempts. A rejection is a *LimitError. Store failures are
// returned wrapped in [ErrStoreUnavailable]; the caller picks the failure
// mode.
//
// Checking the marker and incrementing the counter touch two keys without a
// transaction. Concurrent callers may both pass the check while the
// threshold is crossed, letting at most one extra attempt per concurrent
// caller through.
func (l *Limiter) Allow(ctx context.Context, action, identity string, rule Rule) error {
	if rule.MaxAttempts <= 0 {
		return nil
	}
	key := Key(action, identity)

	blocked, retryAfter, err := l.IsBlocked(ctx, key)
	if err != nil {
		return err
	}
	if blocked {
		return &LimitError{Action: action, RetryAfter: retryAfter}
	}

	count, err := l.Increment(ctx, key, rule)
	if err != nil {
		return err
	}
	if count <= int64(rule.MaxAttempts) {
		return nil
	}

	if err := l.Block(ctx, key, rule); err != nil {
		return err
	}
	return &LimitError{Action: action, RetryAfter: rule.Block}
}

// RetryAfter extracts the wait hint from err, or zero when err is not a
// rate-limit rejection.
func RetryAfter(err error) time.Duration {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter
	}
	return 0
}
