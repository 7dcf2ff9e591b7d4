// Package api is the HTTP surface of the registry: the pub-compatible
// package and publish endpoints, user auth and token management, the
// admin realm, and the archive download path. Handlers translate
// outcomes from the core packages into the JSON envelope; they never
// leak raw storage errors to clients.
package api
