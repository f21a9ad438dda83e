// Package chatauth is the authentication and session-security core of the
// chat backend. It logs users in with a password, issues short-lived access
// tokens and rotating refresh tokens, validates access tokens on every
// request, and lets users list and terminate their sessions.
//
// All shared state lives in Redis so any number of server instances can run
// the [Engine] side by side: the session registry, the revocation markers,
// the lockout counters and the rate-limit windows. Engine methods are safe
// for concurrent use after [Builder.Build].
//
// # Failure modes
//
// Revocation checks fail closed: when Redis cannot answer, [Engine.Validate]
// returns [ErrStoreUnavailable] and the request must be rejected. Rate-limit
// checks fail open: the attempt proceeds, a warning is logged and
// MetricRateLimitFailOpen is counted. Account lockout is read before any
// password work, so a store outage during login rejects the attempt.
//
// # Architecture boundaries
//
// chatauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types ([TokenPair], [Identity], [SessionInfo]). Flow
// orchestration, lockout, rate limiting and audit dispatch live under
// internal/. The jwt, kv, session and password packages are usable on their
// own; the middleware package adapts an Engine to net/http.
//
// # What this package must NOT do
//
//   - Log or emit passwords, password hashes or tokens.
//   - Reveal whether an account exists: unknown accounts and wrong
//     passwords return the same error after the same hashing work.
//   - Import the middleware package (no import cycles).
package chatauth
