// Package session tracks live sessions, their revocation markers and the
// per-user session index in the shared key-value store.
//
// # Keys
//
//   - sess:{user}:{sid}  JSON [Record], ttl = refresh lifetime
//   - sref:{user}:{sid}  current refresh rotation id, same ttl
//   - srev:{user}:{sid}  revocation marker, ttl = refresh lifetime
//   - suser:{user}       set of session ids
//
// A revocation marker outlives every token issued for the session, so its
// presence is authoritative: a revoked session stays revoked until all of
// its tokens have expired anyway.
//
// # Architecture boundaries
//
// The [Registry] owns session persistence and the explicit [RevokedCache].
// It does not parse tokens or decide HTTP outcomes.
//
// # What this package must NOT do
//
//   - Import the root package, jwt, or middleware.
//   - Cache negative revocation results (a "not revoked" answer may go stale).
package session
