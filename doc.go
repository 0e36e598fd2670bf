// Package authcore provides the authentication and session lifecycle of a
// user-facing service: password login with lockout, a second factor by
// authenticator app or emailed code, passwordless login codes, short-lived
// JWT access tokens with a single rotating refresh token, and password reset.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([Session], [UserView], [MetricsSnapshot], [SessionInfo]). Every
// piece of per-user state lives on one account row behind [account.Store];
// the engine reads it, applies a flow from internal/flows, and writes it back
// conditionally on its version. Concrete stores live under store/.
//
// # What this package must NOT do
//
//   - Store a password, code or token in plaintext. Only digests reach the
//     store.
//   - Reveal through its errors whether an email is registered, except where
//     registration itself must report a duplicate.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Performance contract
//
// ValidateAccess is the hot path and never touches the store. Login, Refresh
// and every other flow cost one read and one conditional write in the common
// case, plus a re-read per lost write race.
package authcore
