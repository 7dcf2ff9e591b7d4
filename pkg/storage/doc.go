// Package storage defines the metadata store used by the registry.
//
// The Store interface covers every persistent entity the server knows
// about: packages and their versions, users and sessions, API tokens,
// webhooks and their delivery history, download counters, the activity
// feed, admin accounts and the site configuration table. Two backends
// implement it, pkg/storage/sqlite for single-node deployments and
// pkg/storage/postgres for shared ones. Which backend a deployment gets
// is decided by the scheme of its database URL; everything above the
// Store interface is backend-agnostic.
//
// Archive bytes never live here. Version rows carry the blob-store key
// and SHA-256 of their archive, and the blob store (pkg/blob) owns the
// bytes themselves. Writes that span several rows (publishing a version,
// deleting a user, clearing the upstream cache) happen inside a single
// transaction in each backend so readers never observe half-applied
// state.
//
// Errors returned by Store implementations wrap one of the sentinel
// errors in this package (ErrNotFound, ErrConflict, ErrInvalid,
// ErrUnavailable) so callers can classify failures with errors.Is
// without knowing which backend produced them.
package storage
