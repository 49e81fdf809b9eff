// Package api serves the catalog, on-demand state evaluation and the cached
// keyframes over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/cache"
	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/health"
	"github.com/star/orrery/internal/httputil"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/propagation"
	"github.com/star/orrery/internal/stream"
)

// Config holds the HTTP surface configuration.
type Config struct {
	Addr        string
	Auth        auth.Config
	CatalogPath string  // reread by POST /api/v1/catalog/reload
	RateLimit   float64 // evaluation requests per second per client; <= 0 disables
	RateBurst   int
	TrustProxy  bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, store *catalog.Store, prop *propagation.Propagator, kc *cache.KeyframeCache, streamHandler *stream.Handler, logger *slog.Logger) *Server {
	// Evaluation routes do real work per request; everything else is a lookup.
	limit := func(h http.Handler) http.Handler { return h }
	if cfg.RateLimit > 0 {
		limit = NewIPRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, cfg.TrustProxy).Wrap
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool { return store.Get() != nil }))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/catalog", catalogHandler(store))
	mux.HandleFunc("POST /api/v1/catalog/reload", reloadHandler(store, cfg.CatalogPath, logger))
	mux.Handle("GET /api/v1/bodies/{id}/state", limit(stateHandler(store, prop)))
	mux.Handle("POST /api/v1/evaluate", limit(evaluateHandler()))

	mux.HandleFunc("GET /api/v1/keyframes/latest", latestKeyframeHandler(kc))
	mux.HandleFunc("GET /api/v1/keyframes/at", keyframeAtHandler(kc))
	mux.HandleFunc("GET /api/v1/keyframes/recent", recentKeyframesHandler(kc))
	mux.HandleFunc("GET /api/v1/cache/stats", cacheStatsHandler(kc))
	mux.HandleFunc("GET /api/v1/stream/keyframes", streamHandler.HandleKeyframes)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			switch {
			case sr.statusCode >= 500:
				level = slog.LevelError
			case probePath(r.URL.Path):
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
