package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orrery_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	rateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_http_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter.",
	})

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_evaluations_total",
			Help: "State vector evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	solverNonConvergenceTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_solver_nonconvergence_total",
		Help: "Kepler solves that missed their requested tolerance.",
	})

	propagationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_propagation_duration_seconds",
		Help:    "Time to propagate the whole catalog to one instant.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	propagationWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_propagation_workers",
		Help: "Size of the propagation worker pool.",
	})

	catalogBodies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_catalog_bodies",
		Help: "Number of bodies in the loaded catalog.",
	})

	catalogAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_catalog_age_seconds",
		Help: "Seconds since the catalog was loaded.",
	})

	ingestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_ingest_runs_total",
			Help: "Catalog ingest runs by result.",
		},
		[]string{"result"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_ingest_duration_seconds",
		Help:    "Catalog ingest duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_hits_total",
		Help: "Keyframe cache hits.",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_misses_total",
		Help: "Keyframe cache misses.",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_evictions_total",
		Help: "Keyframes evicted from the cache.",
	})

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_cache_entries",
		Help: "Keyframes currently cached.",
	})

	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_cache_size_bytes",
		Help: "Estimated keyframe cache memory footprint.",
	})

	cacheRegenerationErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_regeneration_errors_total",
		Help: "Keyframe generations that failed.",
	})

	cacheRegenerationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_cache_regeneration_duration_seconds",
		Help:    "Time to generate keyframes for the cache.",
		Buckets: prometheus.DefBuckets,
	})

	cacheGracePeriodActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_cache_grace_period_active",
		Help: "1 while the cache is rebuilding after a catalog change.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_connections_total",
			Help: "Keyframe stream connects and disconnects.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_streams_active",
		Help: "Open keyframe streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_stream_messages_total",
		Help: "Messages sent on keyframe streams.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_stream_bytes_total",
		Help: "Bytes written to keyframe streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_errors_total",
			Help: "Keyframe stream errors by reason.",
		},
		[]string{"reason"},
	)

	streamRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_rejections_total",
			Help: "Keyframe streams refused by a concurrency cap (per_ip, global).",
		},
		[]string{"reason"},
	)

	streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_stream_clients",
		Help: "Distinct client IPs holding at least one keyframe stream.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		rateLimitedTotal,
		evaluationsTotal,
		solverNonConvergenceTotal,
		propagationDurationSeconds,
		propagationWorkers,
		catalogBodies,
		catalogAgeSeconds,
		ingestRunsTotal,
		ingestDurationSeconds,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntries,
		cacheSizeBytes,
		cacheRegenerationErrorsTotal,
		cacheRegenerationDurationSeconds,
		cacheGracePeriodActive,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
		streamRejectionsTotal,
		streamClients,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// knownRoutes are exact paths that keep their own label.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/catalog":          true,
	"/api/v1/catalog/reload":   true,
	"/api/v1/evaluate":         true,
	"/api/v1/keyframes/latest": true,
	"/api/v1/keyframes/at":     true,
	"/api/v1/keyframes/recent": true,
	"/api/v1/cache/stats":      true,
	"/api/v1/stream/keyframes": true,
}

// normalizeRoute bounds label cardinality: body identifiers collapse into one
// label and unknown paths into "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/bodies/"); ok {
		if id, ok := strings.CutSuffix(rest, "/state"); ok && id != "" && !strings.Contains(id, "/") {
			return "/api/v1/bodies/{id}/state"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

// IncRateLimited counts a request rejected by the rate limiter.
func IncRateLimited() { rateLimitedTotal.Inc() }

// RecordEvaluation counts one state evaluation.
func RecordEvaluation(err error) {
	if err != nil {
		evaluationsTotal.WithLabelValues("error").Inc()
		return
	}
	evaluationsTotal.WithLabelValues("ok").Inc()
}

// IncSolverNonConvergence counts a solve that missed its tolerance.
func IncSolverNonConvergence() { solverNonConvergenceTotal.Inc() }

// RecordPropagation records one catalog-wide propagation.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDurationSeconds.Observe(d.Seconds())
	evaluationsTotal.WithLabelValues("ok").Add(float64(success))
	evaluationsTotal.WithLabelValues("error").Add(float64(errors))
}

// SetPropagationWorkers publishes the worker pool size.
func SetPropagationWorkers(n int) { propagationWorkers.Set(float64(n)) }

// SetCatalogBodies publishes the number of catalog bodies.
func SetCatalogBodies(n int) { catalogBodies.Set(float64(n)) }

// SetCatalogAge publishes the catalog age in seconds.
func SetCatalogAge(seconds float64) { catalogAgeSeconds.Set(seconds) }

// RecordIngest records one ingest run.
func RecordIngest(d time.Duration, err error) {
	ingestDurationSeconds.Observe(d.Seconds())
	if err != nil {
		ingestRunsTotal.WithLabelValues("error").Inc()
		return
	}
	ingestRunsTotal.WithLabelValues("ok").Inc()
}

func IncCacheHits()               { cacheHitsTotal.Inc() }
func IncCacheMisses()             { cacheMissesTotal.Inc() }
func AddCacheEvictions(n int)     { cacheEvictionsTotal.Add(float64(n)) }
func SetCacheEntries(n int)       { cacheEntries.Set(float64(n)) }
func SetCacheSizeBytes(n int64)   { cacheSizeBytes.Set(float64(n)) }
func IncCacheRegenerationErrors() { cacheRegenerationErrorsTotal.Inc() }

// ObserveCacheRegenerationDuration records how long a keyframe generation took.
func ObserveCacheRegenerationDuration(d time.Duration) {
	cacheRegenerationDurationSeconds.Observe(d.Seconds())
}

// SetCacheGracePeriodActive flags a cache rebuild in progress.
func SetCacheGracePeriodActive(active bool) {
	if active {
		cacheGracePeriodActive.Set(1)
		return
	}
	cacheGracePeriodActive.Set(0)
}

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

func IncStreamsActive()        { streamsActive.Inc() }
func DecStreamsActive()        { streamsActive.Dec() }
func IncStreamMessages()       { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64)   { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(r string) { streamErrorsTotal.WithLabelValues(r).Inc() }

// IncStreamRejections counts a stream refused by the named cap.
func IncStreamRejections(reason string) { streamRejectionsTotal.WithLabelValues(reason).Inc() }

// SetStreamClients publishes the number of distinct streaming client IPs.
func SetStreamClients(n int) { streamClients.Set(float64(n)) }
