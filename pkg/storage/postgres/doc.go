// Package postgres implements storage.Store on PostgreSQL for
// deployments where several registry instances share one database.
//
// The schema mirrors the sqlite backend with native types where they
// help: scopes and event lists are TEXT[], pubspecs are JSONB and all
// timestamps are TIMESTAMPTZ. An optional redis read-cache (see
// CachedStore) can be layered on top to keep hot package lookups off
// the database; it is a pure decorator and changes no semantics.
package postgres
