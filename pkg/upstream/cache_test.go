package upstream

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/storage/sqlite"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "upstream.db"))
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newDownloadsFixture(t *testing.T, client *Client) (*Downloads, storage.Store, blob.Store, blob.Store) {
	t.Helper()
	store := newTestStore(t)
	hosted := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "hosted"))
	cache := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "cache"))
	return NewDownloads(store, hosted, cache, client, testLog()), store, hosted, cache
}

func TestFetchServesHostedPackage(t *testing.T) {
	ctx := context.Background()
	d, store, hosted, _ := newDownloadsFixture(t, nil)

	data := []byte("hosted archive bytes")
	key := blob.ArchiveKey("alpha", "1.0.0", "abc123")
	require.NoError(t, hosted.PutArchive(ctx, key, data))
	_, err := store.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName: "alpha",
		Version:     "1.0.0",
		Pubspec:     map[string]interface{}{"name": "alpha", "version": "1.0.0"},
		ArchiveKey:  key,
	})
	require.NoError(t, err)

	rec := &storage.DownloadRecord{IP: "203.0.113.9", UserAgent: "pub/3.0"}
	got, err := d.Fetch(ctx, "alpha", "1.0.0", rec)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	stats, err := store.GetAdminStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalDownloads)
}

func TestFetchMissWithProxyDisabled(t *testing.T) {
	d, _, _, _ := newDownloadsFixture(t, nil)
	_, err := d.Fetch(context.Background(), "ghost", "1.0.0", nil)
	assert.True(t, storage.IsNotFound(err))
}

func TestFetchReadsThroughAndCaches(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.addPackage(srv.URL, "beta", "2.3.1")

	client := NewClient(srv.URL, testLog())
	defer client.Close()
	d, store, _, cacheBlobs := newDownloadsFixture(t, client)

	got, err := d.Fetch(ctx, "beta", "2.3.1", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("archive:beta:2.3.1"), got)

	// Metadata was materialized as a cached package.
	pkg, err := store.GetPackage(ctx, "beta")
	require.NoError(t, err)
	assert.True(t, pkg.IsUpstreamCache)
	pv, err := store.GetPackageVersion(ctx, "beta", "2.3.1")
	require.NoError(t, err)
	cached, err := cacheBlobs.GetArchive(ctx, pv.ArchiveKey)
	require.NoError(t, err)
	assert.Equal(t, got, cached)

	// Second fetch comes from the cache, not upstream.
	before := reg.requests()
	got2, err := d.Fetch(ctx, "beta", "2.3.1", nil)
	require.NoError(t, err)
	assert.Equal(t, got, got2)
	assert.Equal(t, before, reg.requests())
}

func TestFetchUnknownUpstreamVersion(t *testing.T) {
	reg := newFakeRegistry()
	srv := httptest.NewServer(reg.handler())
	defer srv.Close()
	reg.addPackage(srv.URL, "beta", "2.3.1")

	client := NewClient(srv.URL, testLog())
	defer client.Close()
	d, _, _, _ := newDownloadsFixture(t, client)

	_, err := d.Fetch(context.Background(), "beta", "9.9.9", nil)
	assert.True(t, storage.IsNotFound(err))
}

type signingBlobs struct {
	blob.Store
}

func (s signingBlobs) SignedURL(ctx context.Context, key string) (string, error) {
	return "https://cdn.example.test/" + key, nil
}

func TestSignedURLFromSigningBackend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	hosted := signingBlobs{blob.NewFilesystemStore(filepath.Join(t.TempDir(), "hosted"))}
	cache := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "cache"))
	d := NewDownloads(store, hosted, cache, nil, testLog())

	key := blob.ArchiveKey("alpha", "1.0.0", "abc123")
	_, err := store.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName: "alpha",
		Version:     "1.0.0",
		Pubspec:     map[string]interface{}{"name": "alpha", "version": "1.0.0"},
		ArchiveKey:  key,
	})
	require.NoError(t, err)

	u, ok := d.SignedURL(ctx, "alpha", "1.0.0", &storage.DownloadRecord{IP: "203.0.113.9"})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.test/"+key, u)

	// The redirect still counts as a download.
	stats, err := store.GetAdminStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalDownloads)
}

func TestSignedURLUnsupportedBackend(t *testing.T) {
	ctx := context.Background()
	d, store, _, _ := newDownloadsFixture(t, nil)

	_, err := store.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName: "alpha",
		Version:     "1.0.0",
		Pubspec:     map[string]interface{}{"name": "alpha", "version": "1.0.0"},
		ArchiveKey:  blob.ArchiveKey("alpha", "1.0.0", "abc123"),
	})
	require.NoError(t, err)

	_, ok := d.SignedURL(ctx, "alpha", "1.0.0", nil)
	assert.False(t, ok)

	_, ok = d.SignedURL(ctx, "missing", "1.0.0", nil)
	assert.False(t, ok)
}
