// Package metrics exposes the crawler's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (client, crawl,
// scheduler, status) via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the crawler.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

const shutdownTimeout = 5 * time.Second

// Handler returns the mux served by Serve: /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bikecrawler_requests_total{status} (Counter): Requests by HTTP status or "network_error"
//   - bikecrawler_request_duration_seconds (Histogram): Request duration
//   - bikecrawler_errors_total{class} (Counter): Network errors and non-2xx responses by class
//
// Cycle Metrics (pkg/crawl):
//   - bikecrawler_cycles_total{result} (Counter): Crawl cycles by success/failure
//   - bikecrawler_pages_written_total (Counter): Pages archived
//   - bikecrawler_bytes_written_total (Counter): Bytes archived
//   - bikecrawler_cycle_duration_seconds (Histogram): Cycle duration
//
// Scheduler Metrics (pkg/scheduler):
//   - bikecrawler_job_runs_total{job, result} (Counter): Job invocations
//   - bikecrawler_job_last_run_timestamp_seconds{job} (Gauge): Last invocation time
//
// Heartbeat Metrics (pkg/status):
//   - bikecrawler_heartbeat_errors_total{operation} (Counter): Redis heartbeat errors
//
// Example Prometheus Queries:
//
//   # Crawler stalled (no cycle for 5 minutes)
//   time() - bikecrawler_job_last_run_timestamp_seconds{job="crawl"} > 300
//
//   # Token expired or revoked
//   rate(bikecrawler_requests_total{status="401"}[5m]) > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(bikecrawler_request_duration_seconds_bucket[5m]))
