// Package observability wires logging, metrics, tracing, health probes
// and graceful shutdown.
//
// Logging is logrus with a component field per subsystem. Metrics are
// Prometheus on a dedicated registry: HTTP counters and histograms are
// recorded per request, while the repub_* registry gauges (package,
// version, user, token and download totals) are collected live from the
// metadata store on each scrape. Tracing is optional OTLP over gRPC.
package observability
