// Package publish implements the three-step upload flow of the hosted
// package API: create an upload session, receive the archive bytes,
// then finalize. Bytes live in memory keyed by session id until
// finalize consumes them or the hourly TTL reaps them. Finalize
// validates the archive (gzip, tar, pubspec.yaml with a well-formed
// name and version), checks the caller's publish rights, writes the
// blob first and the metadata row second, so a visible version always
// has readable bytes.
package publish
