// Package rate provides a Redis-backed fixed-window request limiter shared by
// every instance of a deployment.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. A counter
// whose TTL was lost is re-armed on the next hit. Keys are the configured
// prefix followed by the caller's key, usually a client IP.
//
// # What this package must NOT do
//
//   - Implement account lockout (that lives on the account row, see
//     internal/limiters).
//   - Be imported outside the authcore module.
package rate
