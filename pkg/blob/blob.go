package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates no blob exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// Store is opaque byte storage by key. Writes are atomic: readers see
// either the whole blob or ErrNotFound, never a partial write.
// PutArchive is idempotent and overwrite is permitted, since archive
// keys embed the content hash.
type Store interface {
	// EnsureReady creates the backing container (directory or bucket)
	// if it does not exist yet.
	EnsureReady(ctx context.Context) error
	PutArchive(ctx context.Context, key string, data []byte) error
	// GetArchive returns the stored bytes, or an error wrapping
	// ErrNotFound when the key is absent.
	GetArchive(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Signer is implemented by stores that can mint short-lived direct
// download URLs, letting clients pull archives without proxying the
// bytes through the server.
type Signer interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

// ArchiveKey builds the stable storage key for a package archive. The
// sha256 in the key makes re-publishing the same bytes a no-op and
// distinct bytes impossible to confuse.
func ArchiveKey(pkg, version, sha256 string) string {
	return fmt.Sprintf("%s/%s-%s.tar.gz", pkg, version, sha256)
}
