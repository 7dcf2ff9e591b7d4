// Package middleware holds the request-gating middleware: a sliding
// window rate limiter keyed by client identity and an IP allowlist
// guarding the admin path prefix. Both sit in front of the router, so
// rejected requests never reach a handler.
package middleware
