// Package blob stores archive bytes by opaque key. The metadata store
// knows which key belongs to which version; this package only moves
// bytes.
//
// Two backends implement the Store interface: local filesystem for
// single-node deployments and S3-compatible object storage for shared
// ones. The server holds two instances regardless of backend, one for
// hosted archives and one for upstream-cached archives, so the cache
// can be cleared without touching hosted content.
package blob
