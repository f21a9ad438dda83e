package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/chatauth/kv"
)

// LockoutConfig holds configuration for the account lockout policy.
type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
	// Now overrides the clock used for lock timestamps.
	Now func() time.Time
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutLimiter counts failed logins per account and locks the account once
// the count reaches MaxFailedAttempts. Each further failure while locked
// pushes the lock out by another Duration. A successful login clears both
// the counter and the lock. An elapsed lock needs no cleanup: the lock is a
// timestamp compared against the clock.
type LockoutLimiter struct {
	store  *kv.Store
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(store *kv.Store, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LockoutLimiter{store: store, config: cfg}
}

func countKey(account string) string {
	return "lo:cnt:" + account
}

func untilKey(account string) string {
	return "lo:until:" + account
}

// RecordFailure registers one failed attempt and reports whether the
// account is locked afterwards, with the lock expiry.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, account string) (bool, time.Time, error) {
	if l == nil || account == "" || l.config.MaxFailedAttempts <= 0 {
		return false, time.Time{}, nil
	}

	count, err := l.store.IncrementWindow(ctx, countKey(account), l.config.Duration)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count < int64(l.config.MaxFailedAttempts) {
		return l.LockedUntil(ctx, account)
	}

	until := l.config.Now().Add(l.config.Duration)
	err = l.store.Atomic(ctx, func(b *kv.Batch) {
		b.Set(untilKey(account), strconv.FormatInt(until.UnixMilli(), 10), l.config.Duration)
		b.Expire(countKey(account), l.config.Duration)
	})
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, until, nil
}

// RecordSuccess clears the failure counter and any lock.
func (l *LockoutLimiter) RecordSuccess(ctx context.Context, account string) error {
	if l == nil || account == "" {
		return nil
	}
	if _, err := l.store.Delete(ctx, countKey(account), untilKey(account)); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// IsLocked reports whether the account is currently locked.
func (l *LockoutLimiter) IsLocked(ctx context.Context, account string) (bool, error) {
	locked, _, err := l.LockedUntil(ctx, account)
	return locked, err
}

// LockedUntil returns the lock state and, when locked, its expiry.
func (l *LockoutLimiter) LockedUntil(ctx context.Context, account string) (bool, time.Time, error) {
	if l == nil || account == "" {
		return false, time.Time{}, nil
	}
	raw, ok, err := l.store.Get(ctx, untilKey(account))
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if !ok {
		return false, time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: corrupt lock timestamp", ErrLockoutUnavailable)
	}
	until := time.UnixMilli(ms)
	if !l.config.Now().Before(until) {
		return false, time.Time{}, nil
	}
	return true, until, nil
}

// FailureCount returns the current failure count.
func (l *LockoutLimiter) FailureCount(ctx context.Context, account string) (int, error) {
	if l == nil || account == "" {
		return 0, nil
	}
	raw, ok, err := l.store.Get(ctx, countKey(account))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
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
