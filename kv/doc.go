// Package kv wraps the shared Redis instance behind a small set of
// primitives (get, set, delete, exists, increment, expire, ttl, set
// membership, compare-and-swap and atomic batches).
//
// # Failure model
//
// Each attempt runs under [Config.Timeout]. Idempotent calls are retried once
// after [Config.RetryDelay]; [Store.CompareAndSwap] is never retried. Every
// transport failure is wrapped in [ErrUnavailable]. Missing keys are reported
// as absent values, never as errors.
//
// # What this package must NOT do
//
//   - Decide what a failure means (fail open or fail closed is the caller's call).
//   - Know about sessions, tokens or rate-limit policy.
package kv
