// Package auth provides the identity and access-control core of the shop
// backend: account registration, bcrypt credentials, single use email
// verification tickets, JWT sessions and role based authorization.
//
// Accounts:
//   - Users are persisted through bun (SQLite or PostgreSQL). Email and
//     username are unique at the store level, and the unique index is the
//     authority when two registrations race.
//   - Reads never return the password hash, except FindCredentialsByEmail
//     which only the login path uses.
//
// Verification:
//   - Registration issues a random ticket. Only its sha256 digest is stored
//     and the raw value travels in the mailed link.
//   - VerificationStateMachine owns the single Pending to Verified edge.
//     Tickets are consumed with one conditional update, so a ticket verifies
//     at most once. Replaying a consumed ticket is a no-op success.
//
// Sessions:
//   - TokenService signs HS256 tokens carrying the subject id and role. The
//     middleware in middleware/jwtware validates the x-auth-token header and
//     re-resolves the account from the store on every request, so deleted
//     accounts and role changes apply before the token expires.
//   - RequireRoles gates a route on an explicit RoleSet. There is no implied
//     role hierarchy.
//
// Activity sinks:
//   - ActivitySink receives registration, verification, login, update and
//     notification failure events. Sinks run best effort, errors are logged.
package auth
