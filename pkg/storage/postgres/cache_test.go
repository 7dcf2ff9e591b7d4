package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedStore(t *testing.T) (*CachedStore, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCachedStoreWithClient(NewFromDB(db), client), mock, mr
}

func cachedVersionJSON(t *testing.T, name, version string) string {
	t.Helper()
	raw, err := json.Marshal(&versionBlob{
		PackageName: name,
		Version:     version,
		Pubspec:     map[string]interface{}{"name": name},
		ArchiveKey:  name + "/" + version + "-abc.tar.gz",
		PublishedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return string(raw)
}

func TestCachedVersionServedFromRedis(t *testing.T) {
	cs, mock, mr := newCachedStore(t)
	require.NoError(t, mr.Set(versionKeyPrefix+"alpha:1.0.0", cachedVersionJSON(t, "alpha", "1.0.0")))

	// No sqlmock expectations: a database round trip would fail the test.
	v, err := cs.GetPackageVersion(context.Background(), "alpha", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "alpha", v.PackageName)
	assert.Equal(t, "alpha/1.0.0-abc.tar.gz", v.ArchiveKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheMissFallsThroughAndPopulates(t *testing.T) {
	cs, mock, mr := newCachedStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM package_versions WHERE package_name = \$1 AND version = \$2`).
		WithArgs("alpha", "1.0.0").
		WillReturnRows(sqlmock.NewRows(versionCols).AddRow(
			"alpha", "1.0.0", []byte(`{"name":"alpha"}`), "alpha/1.0.0-abc.tar.gz", "abc",
			time.Now().UTC(), false, nil, ""))

	v, err := cs.GetPackageVersion(context.Background(), "alpha", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.Version)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The miss populated the cache.
	assert.True(t, mr.Exists(versionKeyPrefix+"alpha:1.0.0"))
}

func TestWriteInvalidatesCachedPackage(t *testing.T) {
	cs, mock, mr := newCachedStore(t)
	require.NoError(t, mr.Set(packageKeyPrefix+"alpha", "{}"))
	require.NoError(t, mr.Set(versionKeyPrefix+"alpha:1.0.0", cachedVersionJSON(t, "alpha", "1.0.0")))
	require.NoError(t, mr.Set(versionKeyPrefix+"beta:1.0.0", cachedVersionJSON(t, "beta", "1.0.0")))

	mock.ExpectExec(`UPDATE package_versions SET is_retracted = TRUE`).
		WithArgs(sqlmock.AnyArg(), "bad build", "alpha", "1.0.0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := cs.RetractPackageVersion(context.Background(), "alpha", "1.0.0", "bad build")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.False(t, mr.Exists(packageKeyPrefix+"alpha"))
	assert.False(t, mr.Exists(versionKeyPrefix+"alpha:1.0.0"))
	// Other packages stay cached.
	assert.True(t, mr.Exists(versionKeyPrefix+"beta:1.0.0"))
}

func TestRedisDownFallsThrough(t *testing.T) {
	cs, mock, mr := newCachedStore(t)
	mr.Close()

	mock.ExpectQuery(`SELECT (.+) FROM package_versions WHERE package_name = \$1 AND version = \$2`).
		WithArgs("alpha", "1.0.0").
		WillReturnRows(sqlmock.NewRows(versionCols).AddRow(
			"alpha", "1.0.0", []byte(`{"name":"alpha"}`), "alpha/1.0.0-abc.tar.gz", "abc",
			time.Now().UTC(), false, nil, ""))

	v, err := cs.GetPackageVersion(context.Background(), "alpha", "1.0.0")
	require.NoError(t, err)
	assert.False(t, v.IsRetracted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
