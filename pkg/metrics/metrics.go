// Package metrics provides the Prometheus registry and HTTP handler for the
// price exporter. Collectors are defined in their respective packages
// (client, export, guard) to keep those packages self-contained.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler that serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// API Client Metrics (pkg/client):
//   - market_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - market_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - market_errors_total{class} (Counter): Errors by class (client, server, network)
//
// Export Metrics (pkg/export):
//   - export_runs_total{operation, outcome} (Counter): Entry operation runs by outcome
//   - export_pages_total{operation} (Counter): Pages or batches fetched
//   - export_rows_written_total{sheet} (Counter): Data rows appended to a sheet
//   - export_soft_stops_total{operation} (Counter): Loops ended on an unexpected response shape
//
// Guard Metrics (pkg/guard):
//   - export_lock_conflicts_total{sheet} (Counter): Runs rejected because the sheet was locked
//
// Example Prometheus Queries:
//
//   # Failed export rate
//   sum(rate(export_runs_total{outcome="error"}[1h]))
//
//   # Soft stops (possible masked API errors)
//   increase(export_soft_stops_total[1d]) > 0
//
//   # P95 API latency
//   histogram_quantile(0.95, rate(market_request_duration_seconds_bucket[5m]))
