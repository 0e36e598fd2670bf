// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [Guard] verifies the bearer access token and stores its claims in the
//     request context.
//   - [RequireRole] rejects requests whose claims carry none of the given roles.
//     It must run behind Guard.
//   - [RequestMetadata] copies the client IP and User-Agent into the context so
//     the Engine can record them in audit events.
//
// This package translates HTTP semantics into Engine calls. Token parsing and
// every authentication decision stay in the Engine.
package middleware
