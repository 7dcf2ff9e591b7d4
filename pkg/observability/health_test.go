package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repub/pkg/blob"
)

func TestLiveness(t *testing.T) {
	h := NewHealthChecker(newTestStore(t), blob.NewFilesystemStore(t.TempDir()), nil, "1.0.0")

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusHealthy)
}

func TestReadinessHealthy(t *testing.T) {
	hosted := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "hosted"))
	cache := blob.NewFilesystemStore(filepath.Join(t.TempDir(), "cache"))
	h := NewHealthChecker(newTestStore(t), hosted, cache, "1.0.0")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body DetailedHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "sqlite", body.Components["database"].Type)
	assert.Contains(t, body.Components, "storage")
	assert.Contains(t, body.Components, "cache_storage")
}

func TestReadinessUnhealthyStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	h := NewHealthChecker(s, blob.NewFilesystemStore(t.TempDir()), nil, "1.0.0")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusUnhealthy)
}
