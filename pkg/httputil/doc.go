// Package httputil provides the HTTP plumbing shared by every handler:
// the canonical JSON envelope, request parsing helpers, and middleware
// chaining.
//
// All API responses use one of two shapes. Errors are
//
//	{"error": {"code": "<slug>", "message": "<human readable>"}}
//
// where the code is a stable machine-readable slug from the taxonomy in
// this package, and successes are either a resource object or
//
//	{"success": {"message": "<human readable>"}}
//
// Handlers never write JSON by hand; they go through WriteJSON,
// WriteError and WriteSuccessMessage so the envelope stays uniform.
package httputil
