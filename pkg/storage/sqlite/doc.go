// Package sqlite implements storage.Store on an embedded SQLite
// database. It is the default backend and suits single-node
// deployments: the database is one file next to the package archives,
// WAL journaling keeps readers unblocked, and the pool is capped at a
// single connection so writes never contend.
package sqlite
