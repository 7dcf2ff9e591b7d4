//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/repub/pkg/storage"
)

// startPostgres launches a disposable postgres container and returns a
// migrated store. Run with: go test -tags integration ./pkg/storage/postgres/
func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("repub"),
		tcpostgres.WithUsername("repub"),
		tcpostgres.WithPassword("repub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.RunMigrations(ctx))
	return s
}

func TestPostgresPublishRoundTrip(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	v, err := s.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName: "alpha",
		Version:     "1.0.0",
		OwnerID:     storage.AnonymousUserID,
		Pubspec:     map[string]interface{}{"name": "alpha", "version": "1.0.0"},
		ArchiveKey:  "alpha/1.0.0-abc.tar.gz",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.Version)

	// Duplicate publishes conflict.
	_, err = s.CreatePackageVersion(ctx, storage.NewPackageVersion{
		PackageName: "alpha",
		Version:     "1.0.0",
		OwnerID:     storage.AnonymousUserID,
		Pubspec:     map[string]interface{}{"name": "alpha"},
		ArchiveKey:  "alpha/1.0.0-abc.tar.gz",
	})
	assert.True(t, storage.IsConflict(err))

	info, err := s.GetPackageInfo(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, info.Latest)
	assert.Equal(t, "1.0.0", info.Latest.Version)

	infos, total, err := s.ListPackages(ctx, storage.PackageFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, infos, 1)

	keys, err := s.DeletePackage(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/1.0.0-abc.tar.gz"}, keys)
	_, err = s.GetPackage(ctx, "alpha")
	assert.True(t, storage.IsNotFound(err))
}

func TestPostgresLatestVersionOrdering(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	for _, version := range []string{"0.9.0", "1.0.0-beta.1", "1.0.0", "1.0.1"} {
		_, err := s.CreatePackageVersion(ctx, storage.NewPackageVersion{
			PackageName: "alpha",
			Version:     version,
			OwnerID:     storage.AnonymousUserID,
			Pubspec:     map[string]interface{}{"name": "alpha"},
			ArchiveKey:  "alpha/" + version + "-x.tar.gz",
		})
		require.NoError(t, err)
	}

	info, err := s.GetPackageInfo(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, info.Latest)
	assert.Equal(t, "1.0.1", info.Latest.Version)
}
