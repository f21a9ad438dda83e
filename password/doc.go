// Package password implements Argon2id password hashing and verification.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// account store can re-hash them. [Argon2.VerifyDummy] spends the same work
// as a real verification for logins against unknown accounts.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Credential lookup lives in
// the account repository; lockout lives in internal/limiters.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other chatauth package.
//   - Log plaintext passwords.
package password
