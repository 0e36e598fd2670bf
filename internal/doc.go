// Package internal contains helpers private to authcore: secure random
// tokens and codes, and the digests under which they are stored.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - limiters: lockout policy, attempt budgets and cooldowns
//   - logging: zap logger construction
//   - mail: message templates for codes and links
//   - rate: Redis-backed fixed-window request limiter
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
