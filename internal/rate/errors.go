package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is matched by every *LimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable indicates the counter backend could not be reached.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)

// LimitError reports a rejected attempt and how long the caller must wait.
type LimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Action, e.RetryAfter)
}

// Is reports whether target is [ErrRateLimited].
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}
