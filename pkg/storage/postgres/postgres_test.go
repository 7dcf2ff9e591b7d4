package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repub/pkg/storage"
)

func newMockStore(t *testing.T, opts ...func(*sqlmock.Sqlmock)) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, o := range opts {
		o(&mock)
	}
	return NewFromDB(db), mock
}

var packageCols = []string{"name", "owner_id", "is_upstream_cache", "is_discontinued", "replaced_by", "created_at", "updated_at"}
var versionCols = []string{"package_name", "version", "pubspec", "archive_key", "archive_sha256", "published_at", "is_retracted", "retracted_at", "retraction_message"}

func TestGetPackageNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM packages WHERE name = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetPackage(context.Background(), "ghost")
	assert.True(t, storage.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPackageInfoResolvesLatest(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM packages WHERE name = \$1`).
		WithArgs("alpha").
		WillReturnRows(sqlmock.NewRows(packageCols).
			AddRow("alpha", int64(1), false, false, "", now, now))
	mock.ExpectQuery(`SELECT (.+) FROM package_versions WHERE package_name = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{"alpha"})).
		WillReturnRows(sqlmock.NewRows(versionCols).
			AddRow("alpha", "1.1.0", []byte(`{"name":"alpha"}`), "alpha/1.1.0.tar.gz", "def", now, false, nil, "").
			AddRow("alpha", "1.0.0", []byte(`{"name":"alpha"}`), "alpha/1.0.0.tar.gz", "abc", now, false, nil, ""))

	info, err := s.GetPackageInfo(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, info.Latest)
	assert.Equal(t, "1.1.0", info.Latest.Version)
	require.Len(t, info.Versions, 2)
	assert.Equal(t, "1.0.0", info.Versions[0].Version, "versions are served lowest-first")
	assert.Equal(t, "alpha/1.0.0.tar.gz", info.Versions[0].ArchiveKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("dev@example.com", "Dev", "hash", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := s.CreateUser(context.Background(), "dev@example.com", "Dev", "hash")
	assert.True(t, storage.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePackageVersionConflictRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_upstream_cache FROM packages WHERE name = \$1 FOR UPDATE`).
		WithArgs("alpha").
		WillReturnRows(sqlmock.NewRows([]string{"is_upstream_cache"}).AddRow(false))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM package_versions`).
		WithArgs("alpha", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.CreatePackageVersion(context.Background(), storage.NewPackageVersion{
		PackageName: "alpha", Version: "1.0.0", ArchiveKey: "alpha/1.0.0.tar.gz",
	})
	assert.True(t, storage.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePackageVersionPopulationMismatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_upstream_cache FROM packages WHERE name = \$1 FOR UPDATE`).
		WithArgs("alpha").
		WillReturnRows(sqlmock.NewRows([]string{"is_upstream_cache"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.CreatePackageVersion(context.Background(), storage.NewPackageVersion{
		PackageName: "alpha", Version: "1.0.0", IsUpstreamCache: false, ArchiveKey: "x",
	})
	assert.True(t, storage.IsInvalid(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateToken(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO tokens`).
		WithArgs(int64(2), "hash", "repub_ab", "ci", pq.Array([]string{"read:all"}), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	tok, err := s.CreateToken(context.Background(), storage.NewToken{
		UserID: 2, Hash: "hash", Prefix: "repub_ab", Label: "ci", Scopes: []string{"read:all"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), tok.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementWebhookFailureDisables(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE webhooks`).
		WithArgs(5, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"failure_count", "is_active"}).AddRow(5, false))

	count, disabled, err := s.IncrementWebhookFailure(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.True(t, disabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementWebhookFailureBelowThreshold(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE webhooks`).
		WithArgs(5, int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"failure_count", "is_active"}).AddRow(2, true))

	count, disabled, err := s.IncrementWebhookFailure(context.Background(), 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, disabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListWebhooksForEventQuery(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT (.+) FROM webhooks WHERE is_active = TRUE AND \(\$1 = ANY\(events\) OR '\*' = ANY\(events\)\)`).
		WithArgs("package.published").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "secret", "events", "is_active", "failure_count", "last_triggered_at", "created_at"}).
			AddRow(int64(1), "https://ci.example.com/hook", "s", "{package.published}", true, 0, nil, now))

	hooks, err := s.ListWebhooksForEvent(context.Background(), "package.published")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, []string{"package.published"}, hooks[0].Events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewFromDB(db)

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT pg_database_size`).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(int64(123456)))

	hs, err := s.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "postgres", hs.Type)
	assert.Equal(t, "ok", hs.Status)
	assert.Equal(t, int64(123456), hs.DBSizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}
