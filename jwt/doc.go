// Package jwt issues and verifies the compact signed tokens carried by chat
// clients. Every token is tagged with a [TokenType]; a refresh token is never
// accepted where an access token is expected and vice versa.
//
// # Architecture boundaries
//
// The codec is pure: it performs no I/O and keeps no state besides its
// configuration. Revocation and session liveness are checked by the caller.
//
// # What this package must NOT do
//
//   - Talk to Redis or any other store.
//   - Generate identifiers (callers supply the session id and jti).
package jwt
