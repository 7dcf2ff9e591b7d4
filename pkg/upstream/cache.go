package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/storage"
)

var tracer = otel.Tracer("repub/upstream")

// Downloads serves archive bytes, reading through to the upstream
// registry on a local miss. client is nil when the proxy is disabled.
type Downloads struct {
	store  storage.Store
	hosted blob.Store
	cache  blob.Store
	client *Client
	log    *logrus.Entry
}

// NewDownloads wires the download path. hosted and cache are the two
// blob namespaces.
func NewDownloads(store storage.Store, hosted, cache blob.Store, client *Client, log *logrus.Entry) *Downloads {
	return &Downloads{store: store, hosted: hosted, cache: cache, client: client, log: log}
}

// Fetch returns the archive for (name, version). Local metadata wins;
// otherwise the bytes come from upstream and are cached for next time.
// rec, when non-nil, is completed and logged as a download record. A
// miss with the proxy disabled reports storage.ErrNotFound.
func (d *Downloads) Fetch(ctx context.Context, name, version string, rec *storage.DownloadRecord) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "downloads.fetch", trace.WithAttributes(
		attribute.String("package.name", name),
		attribute.String("package.version", version),
	))
	defer span.End()

	pv, err := d.store.GetPackageVersion(ctx, name, version)
	switch {
	case err == nil:
		return d.serveLocal(ctx, name, pv, rec)
	case storage.IsNotFound(err):
		return d.serveUpstream(ctx, name, version, rec)
	default:
		return nil, err
	}
}

// SignedURL returns a direct download URL for a locally known archive
// when the blob backend can mint one. ok is false when the backend
// cannot sign or the version is not known locally, in which case the
// caller falls back to Fetch.
func (d *Downloads) SignedURL(ctx context.Context, name, version string, rec *storage.DownloadRecord) (string, bool) {
	pv, err := d.store.GetPackageVersion(ctx, name, version)
	if err != nil {
		return "", false
	}
	pkg, err := d.store.GetPackage(ctx, name)
	if err != nil {
		return "", false
	}
	blobs := d.hosted
	if pkg.IsUpstreamCache {
		blobs = d.cache
	}
	signer, ok := blobs.(blob.Signer)
	if !ok {
		return "", false
	}
	u, err := signer.SignedURL(ctx, pv.ArchiveKey)
	if err != nil {
		d.log.WithError(err).WithField("package", name).Warn("failed to presign archive url")
		return "", false
	}
	d.recordDownload(ctx, name, pv.Version, rec)
	return u, true
}

func (d *Downloads) serveLocal(ctx context.Context, name string, pv *storage.PackageVersion, rec *storage.DownloadRecord) ([]byte, error) {
	pkg, err := d.store.GetPackage(ctx, name)
	if err != nil {
		return nil, err
	}
	blobs := d.hosted
	if pkg.IsUpstreamCache {
		blobs = d.cache
	}
	data, err := blobs.GetArchive(ctx, pv.ArchiveKey)
	if err != nil {
		return nil, err
	}
	d.recordDownload(ctx, name, pv.Version, rec)
	return data, nil
}

func (d *Downloads) serveUpstream(ctx context.Context, name, version string, rec *storage.DownloadRecord) ([]byte, error) {
	if d.client == nil {
		return nil, fmt.Errorf("package %s %s: %w", name, version, storage.ErrNotFound)
	}

	vi, err := d.client.GetVersion(ctx, name, version)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("package %s %s: %w", name, version, storage.ErrNotFound)
		}
		return nil, err
	}
	data, err := d.client.DownloadArchive(ctx, vi.ArchiveURL)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("archive for %s %s: %w", name, version, storage.ErrNotFound)
		}
		return nil, err
	}

	// Cache best-effort: the client still gets the bytes when either
	// write fails, the next download retries the fill.
	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])
	key := blob.ArchiveKey(name, vi.Version, sha)
	if err := d.cache.PutArchive(ctx, key, data); err != nil {
		d.log.WithError(err).WithField("package", name).Warn("failed to cache upstream archive")
	} else if _, err := d.store.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName:     name,
		Version:         vi.Version,
		IsUpstreamCache: true,
		Pubspec:         vi.Pubspec,
		ArchiveKey:      key,
		ArchiveSHA256:   sha,
	}); err != nil && !storage.IsConflict(err) {
		d.log.WithError(err).WithField("package", name).Warn("failed to record cached version")
	}

	d.recordDownload(ctx, name, vi.Version, rec)
	return data, nil
}

func (d *Downloads) recordDownload(ctx context.Context, name, version string, rec *storage.DownloadRecord) {
	if rec == nil {
		return
	}
	rec.PackageName = name
	rec.Version = version
	if err := d.store.RecordDownload(ctx, *rec); err != nil {
		d.log.WithError(err).WithField("package", name).Error("failed to record download")
	}
}
