// Package middleware guards HTTP routes with a chatauth Engine.
//
// Each route carries a [Route] value naming its [AuthPolicy] and, optionally,
// the rate-limit action it is charged to. One [Guard] enforces them:
//
//   - [NoAuth] routes pass without a token.
//   - [JWTAuth] routes require `Authorization: Bearer <access token>`. The
//     token must verify and its session must not be revoked; a failed
//     revocation check rejects the request.
//
// Responses: 401 for a missing, invalid, expired or revoked token, 403 when
// the identity lacks every role in JWTAuth.AnyRole, and 429 with a
// Retry-After header and {"error":"rate_limited","retryAfter":N} when the
// route's rate limit is exhausted.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token checks go
// through [Validator] and throttling through [Throttler]; both are satisfied
// by *chatauth.Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
//   - Echo token or error details in responses.
package middleware
