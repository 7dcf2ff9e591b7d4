package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repub/pkg/storage"
	"github.com/platinummonkey/repub/pkg/storage/sqlite"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "obs.db"))
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func publishOne(t *testing.T, s storage.Store, name string, cached bool) {
	t.Helper()
	_, err := s.CreatePackageVersion(context.Background(), storage.NewPackageVersion{
		PackageName:     name,
		Version:         "1.0.0",
		OwnerID:         storage.AnonymousUserID,
		IsUpstreamCache: cached,
		Pubspec:         map[string]interface{}{"name": name, "version": "1.0.0"},
		ArchiveKey:      name + "/1.0.0.tar.gz",
	})
	require.NoError(t, err)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsScrapeReflectsStore(t *testing.T) {
	s := newTestStore(t)
	publishOne(t, s, "alpha", false)
	publishOne(t, s, "beta", true)

	m := NewMetrics(s)
	body := scrape(t, m)

	assert.Contains(t, body, `repub_up 1`)
	assert.Contains(t, body, `repub_packages_total{type="hosted"} 1`)
	assert.Contains(t, body, `repub_packages_total{type="cached"} 1`)
	assert.Contains(t, body, `repub_versions_total 2`)
	// The anonymous sentinel user is seeded by migrations.
	assert.Contains(t, body, `repub_users_total 1`)
	assert.Contains(t, body, `repub_downloads_total 0`)
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	s := newTestStore(t)
	m := NewMetrics(s)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/packages/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `repub_http_requests_total{method="GET",path="/api/packages/...",status="404"} 1`)
}

func TestPathLabelBoundsCardinality(t *testing.T) {
	assert.Equal(t, "/api/packages", pathLabel("/api/packages"))
	assert.Equal(t, "/api/packages/...", pathLabel("/api/packages/alpha"))
	assert.Equal(t, "/packages/...", pathLabel("/packages/alpha/versions/1.0.0.tar.gz"))
	assert.Equal(t, "/admin/api/...", pathLabel("/admin/api/stats"))
	assert.Equal(t, "/api/...", pathLabel("/api/tokens"))
	assert.Equal(t, "other", pathLabel("/health"))
}
