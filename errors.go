package chatauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for a wrong password and for an unknown
	// account alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers bad signatures, malformed tokens and tokens of
	// the wrong type.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for a structurally valid token past its expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrAccountLocked is returned while the account's failed-login lock is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned when the account repository marks the account disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrStoreUnavailable is returned when the shared store could not be
	// reached and the operation fails closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized is returned for a revoked session or a missing token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionNotFound is returned when the referenced session no longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshReuse is returned when a rotated refresh token is presented
	// again. The whole session is revoked before it is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrEngineNotReady is returned by methods on an Engine not built through [Builder].
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrAccountNotFound is returned by an [AccountRepository] for an unknown
	// account. The Engine never surfaces it to callers of Login.
	ErrAccountNotFound = errors.New("account not found")
	// ErrRateLimited is matched by every *RateLimitExceededError.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitExceededError is returned when an action's budget is exhausted.
type RateLimitExceededError struct {
	Action     Action
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %s", e.Action, e.RetryAfter)
}

// Is reports whether target is [ErrRateLimited].
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (e *RateLimitExceededError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
