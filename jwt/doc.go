// Package jwt mints and verifies the short-lived access tokens handed out with
// every session. Tokens carry the account id as sub plus email and role, and
// are signed with Ed25519 or HS256.
package jwt
