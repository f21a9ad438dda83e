// Package limiters implements the failed-login account lockout policy on top
// of the shared kv store.
//
// # State machine
//
// An account is Active until MaxFailedAttempts failures accumulate inside
// one counter window, then Locked until lockUntil. Further failures while
// Locked push lockUntil out again. The lock is a stored timestamp compared
// against the clock, so an elapsed lock needs no explicit transition back to
// Active. A successful login clears both keys.
//
// Keys:
//   - lo:cnt:{account}   failure counter, ttl = lockout duration
//   - lo:until:{account} lock expiry in unix milliseconds
//
// All methods are nil-safe: calling any method on a nil receiver reports
// Active and returns nil.
//
// # What this package must NOT do
//
//   - Import chatauth or any sibling internal package.
//   - Verify credentials or mirror state into the account record; the
//     caller decides what a lock means for its flow.
package limiters
