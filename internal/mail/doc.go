// Package mail renders the transactional emails sent by authentication
// flows. Each builder returns a subject plus matching HTML and plain-text
// bodies; delivery belongs to the caller's notifier.
package mail
