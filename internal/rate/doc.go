// Package rate implements the generic fixed-window rate limiter with block
// escalation used to guard login, refresh, password reset and API calls.
//
// # Window semantics
//
// The first attempt of a window creates the counter with ttl = Window; later
// attempts do not extend it. When an attempt pushes the count past
// MaxAttempts a block marker is written with ttl = Block and the counter is
// discarded. While the marker exists the counter is not consulted at all.
//
// Key prefixes:
//   - rl:{action}:{identity}  window counter
//   - rlb:{action}:{identity} block marker
//
// # What this package must NOT do
//
//   - Decide the failure mode on store errors; callers fail open or closed.
//   - Be imported outside the chatauth module.
package rate
