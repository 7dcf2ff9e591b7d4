// Package webhooks delivers registry events to administrator-registered
// HTTP callbacks. Fan-out runs at most five deliveries concurrently.
// Every delivery is signed with HMAC-SHA256 when the webhook has a
// secret, guarded against requests into private address space, and
// recorded as an audit row. Five consecutive failures disable a
// webhook and notify the administrators.
package webhooks
