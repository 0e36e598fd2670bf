// Package account defines the account record shared by the engine and every
// identity store, together with the [Store] contract those stores satisfy.
//
// # Second factor
//
// The second factor is a sealed variant: [NoFactor], [TOTPFactor] or
// [EmailFactor]. Stores flatten it with [EncodeSecondFactor] and rebuild it
// with [DecodeSecondFactor], which rejects combinations such as a TOTP secret
// stored next to an email code.
//
// # Concurrency
//
// Every record carries a Version. [Store.Save] is a conditional write: it
// succeeds only when the stored version still equals the version that was
// read, and bumps it. Callers that lose the race get [ErrConflict] and must
// reload before retrying.
package account
