package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/repub/pkg/storage"
)

// Metrics holds the Prometheus instruments and the registry they live
// in. Request metrics are recorded by middleware; registry-state gauges
// come from the StatsCollector at scrape time.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the instruments on a fresh registry and attaches
// the scrape-time stats collector for store.
func NewMetrics(store storage.Store) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(m.HTTPRequestsTotal, m.HTTPRequestDuration)
	registry.MustRegister(NewStatsCollector(store))
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware instruments every request. The path label uses the raw
// route template only through pathLabel to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := pathLabel(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// pathLabel collapses request paths onto their route family so package
// names and session ids do not explode label cardinality.
func pathLabel(path string) string {
	switch {
	case path == "/api/packages" || path == "/api/packages/search":
		return path
	case len(path) > 13 && path[:13] == "/api/packages":
		return "/api/packages/..."
	case len(path) > 9 && path[:9] == "/packages":
		return "/packages/..."
	case len(path) > 10 && path[:10] == "/admin/api":
		return "/admin/api/..."
	case len(path) > 4 && path[:4] == "/api":
		return "/api/..."
	default:
		return "other"
	}
}

// statsDescs are the constant descriptors for the scrape-time gauges.
var (
	descUp = prometheus.NewDesc("repub_up",
		"Whether the metadata store is reachable", nil, nil)
	descPackages = prometheus.NewDesc("repub_packages_total",
		"Number of packages by population", []string{"type"}, nil)
	descVersions = prometheus.NewDesc("repub_versions_total",
		"Number of package versions", nil, nil)
	descUsers = prometheus.NewDesc("repub_users_total",
		"Number of registered users", nil, nil)
	descTokens = prometheus.NewDesc("repub_tokens_active",
		"Number of unexpired API tokens", nil, nil)
	descDownloads = prometheus.NewDesc("repub_downloads_total",
		"Number of recorded archive downloads", nil, nil)
	descDBSize = prometheus.NewDesc("repub_db_size_bytes",
		"Metadata store size on disk", nil, nil)
	descDBLatency = prometheus.NewDesc("repub_db_latency_ms",
		"Metadata store ping latency", nil, nil)
)

// StatsCollector reads registry totals from the metadata store on each
// scrape, so /metrics always reflects current state without a refresh
// loop.
type StatsCollector struct {
	store storage.Store
}

// NewStatsCollector creates a collector over store.
func NewStatsCollector(store storage.Store) *StatsCollector {
	return &StatsCollector{store: store}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descUp
	ch <- descPackages
	ch <- descVersions
	ch <- descUsers
	ch <- descTokens
	ch <- descDownloads
	ch <- descDBSize
	ch <- descDBLatency
}

// Collect implements prometheus.Collector. A store failure reports
// repub_up=0 and omits the totals rather than failing the scrape.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := c.store.HealthCheck(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(descUp, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(descUp, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(descDBLatency, prometheus.GaugeValue, float64(health.LatencyMS))
	if health.DBSizeBytes > 0 {
		ch <- prometheus.MustNewConstMetric(descDBSize, prometheus.GaugeValue, float64(health.DBSizeBytes))
	}

	stats, err := c.store.GetAdminStats(ctx)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(descPackages, prometheus.GaugeValue, float64(stats.HostedPackages), "hosted")
	ch <- prometheus.MustNewConstMetric(descPackages, prometheus.GaugeValue, float64(stats.CachedPackages), "cached")
	ch <- prometheus.MustNewConstMetric(descVersions, prometheus.GaugeValue, float64(stats.TotalVersions))
	ch <- prometheus.MustNewConstMetric(descUsers, prometheus.GaugeValue, float64(stats.TotalUsers))
	ch <- prometheus.MustNewConstMetric(descTokens, prometheus.GaugeValue, float64(stats.ActiveTokens))
	ch <- prometheus.MustNewConstMetric(descDownloads, prometheus.GaugeValue, float64(stats.TotalDownloads))
}
