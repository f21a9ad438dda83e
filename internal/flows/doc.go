// Package flows contains the orchestration behind every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunValidate, RunLogout, ...)
// accepts a typed dependency struct and returns a result carrying a failure
// kind. The root package maps failure kinds onto its public error taxonomy,
// so flows never import it.
//
// # Architecture boundaries
//
// Flows coordinate the token codec, session registry, lockout policy, rate
// limiter, audit hooks and metrics. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import chatauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs and interfaces.
//   - Decide HTTP status codes.
package flows
