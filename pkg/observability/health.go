package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/repub/pkg/blob"
	"github.com/platinummonkey/repub/pkg/httputil"
	"github.com/platinummonkey/repub/pkg/storage"
)

// Component health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker serves the liveness and readiness probes.
type HealthChecker struct {
	store   storage.Store
	hosted  blob.Store
	cache   blob.Store
	version string
}

// NewHealthChecker creates a checker over the server's dependencies.
func NewHealthChecker(store storage.Store, hosted, cache blob.Store, version string) *HealthChecker {
	return &HealthChecker{store: store, hosted: hosted, cache: cache, version: version}
}

// ComponentStatus is the health of one dependency.
type ComponentStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Type      string `json:"type,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// DetailedHealth is the /health/detailed response body.
type DetailedHealth struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
}

// Liveness answers /health: the process is up, nothing else is
// checked.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness answers /health/detailed with per-component status. A
// failing metadata store makes the whole probe unhealthy (503); blob
// stores are checked by re-running EnsureReady.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result := DetailedHealth{
		Status:     StatusHealthy,
		Version:    h.version,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentStatus),
	}

	dbStatus := ComponentStatus{Status: StatusHealthy}
	start := time.Now()
	if health, err := h.store.HealthCheck(ctx); err != nil {
		dbStatus.Status = StatusUnhealthy
		dbStatus.Message = err.Error()
		dbStatus.LatencyMS = time.Since(start).Milliseconds()
		result.Status = StatusUnhealthy
	} else {
		dbStatus.Type = health.Type
		dbStatus.LatencyMS = health.LatencyMS
	}
	result.Components["database"] = dbStatus

	result.Components["storage"] = h.checkBlob(ctx, h.hosted)
	if h.cache != nil {
		result.Components["cache_storage"] = h.checkBlob(ctx, h.cache)
	}
	for _, c := range result.Components {
		if c.Status == StatusUnhealthy {
			result.Status = StatusUnhealthy
		}
	}

	code := http.StatusOK
	if result.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, result)
}

func (h *HealthChecker) checkBlob(ctx context.Context, s blob.Store) ComponentStatus {
	start := time.Now()
	status := ComponentStatus{Status: StatusHealthy}
	if err := s.EnsureReady(ctx); err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	status.LatencyMS = time.Since(start).Milliseconds()
	return status
}
