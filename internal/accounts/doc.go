// Package accounts is the Postgres account repository used by
// chatauth-server: credential lookup by identifier or id, plus the lockout
// mirror columns (failed_attempts, locked_until) on the account row.
//
// Schema changes live in migrations/ and are embedded into the binary;
// [Migrate] applies them with golang-migrate.
//
// # What this package must NOT do
//
//   - Decide whether a login is allowed; lockout is enforced from Redis by
//     the engine and only mirrored here.
//   - Create accounts.
package accounts
