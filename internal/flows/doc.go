// Package flows holds the orchestration behind every Engine operation.
//
// Each Run* function takes a typed dependency struct of closures, metric IDs,
// audit event names and host sentinel errors, and returns a flow-local result.
// The Engine owns the store, token manager, hasher, audit dispatcher and
// metrics, builds the dependency struct per call and maps results back to its
// public types.
//
// # Persistence
//
// Every write goes through AccountAccess.Mutate. The closure passed to Mutate
// must be safe to apply more than once: outcome variables it captures are
// reset at the top of the closure, and conditions read from the loaded row are
// re-checked against the row Mutate hands in.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly. Store access, mail delivery and audit emission are
//     all mediated through the dependency struct.
package flows
