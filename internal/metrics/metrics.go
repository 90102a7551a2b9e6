// Package metrics provides Prometheus metrics for the node search server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesearch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodesearch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Search metrics
	searchPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesearch_pages_total",
			Help: "Total search pages served, by kind (first, continuation, public) and status",
		},
		[]string{"kind", "status"},
	)

	searchPageRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodesearch_page_rows",
			Help:    "Rows returned per search page",
			Buckets: []float64{0, 1, 5, 10, 20, 30, 40, 50},
		},
		[]string{"kind"},
	)

	pageTokensMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodesearch_page_tokens_minted_total",
			Help: "Total next-page tokens handed to callers",
		},
	)

	pageTokensRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodesearch_page_tokens_rejected_total",
			Help: "Total page tokens that failed to decode",
		},
	)

	containmentDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodesearch_containment_drops_total",
			Help: "Nodes dropped from scoped pages because they were outside the linked folder",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodesearch_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodesearch_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodesearch_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Sharing metrics
	shareLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodesearch_share_links_active",
			Help: "Number of active public links",
		},
	)

	nodesMovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodesearch_nodes_moved_total",
			Help: "Total nodes moved, descendants excluded",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSearchPage records a served or failed search page.
func RecordSearchPage(kind string, rows int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		searchPageRows.WithLabelValues(kind).Observe(float64(rows))
	}
	searchPagesTotal.WithLabelValues(kind, status).Inc()
}

// RecordPageTokenMinted records a next-page token handed out.
func RecordPageTokenMinted() {
	pageTokensMinted.Inc()
}

// RecordPageTokenRejected records a token that failed to decode.
func RecordPageTokenRejected() {
	pageTokensRejected.Inc()
}

// RecordContainmentDrops records nodes removed by the scope re-check.
func RecordContainmentDrops(n int) {
	containmentDrops.Add(float64(n))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetShareLinksActive sets the number of active public links.
func SetShareLinksActive(count int64) {
	shareLinksActive.Set(float64(count))
}

// RecordNodesMoved records a completed move.
func RecordNodesMoved(count int) {
	nodesMovedTotal.Add(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the matched route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
