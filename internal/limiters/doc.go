// Package limiters holds the per-account counting policies used by the flows:
//
//   - [LockoutPolicy]: consecutive password failures and the lock window.
//   - [AttemptBudget]: failure caps for second-factor and one-time codes.
//   - [Cooldown]: quiet period between repeated email-sending requests.
//
// All state lives on the account record; the policies only read and mutate
// the fields handed to them. Persisting the result is the caller's job.
package limiters
