package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/star/orrery/internal/api"
	"github.com/star/orrery/internal/auth"
	"github.com/star/orrery/internal/cache"
	"github.com/star/orrery/internal/catalog"
	"github.com/star/orrery/internal/kepler"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/propagation"
	"github.com/star/orrery/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	apiCfg := loadAPIConfig(logger)
	apiCfg.Auth = authCfg

	store := catalog.NewStore()

	// Start without a catalog rather than refusing to boot; /readyz reports it.
	if c, err := store.Reload(apiCfg.CatalogPath); err != nil {
		logger.Warn("no catalog loaded, starting without body data", "path", apiCfg.CatalogPath, "error", err)
	} else {
		metrics.SetCatalogBodies(len(c.Bodies))
		logger.Info("loaded catalog", "path", apiCfg.CatalogPath, "bodies", len(c.Bodies))
	}

	propCfg := loadPropConfig(logger)
	prop := propagation.NewPropagator(store, propCfg, logger)

	cacheCfg := loadCacheConfig(logger, propCfg)
	kfCache := cache.NewKeyframeCache(cacheCfg, prop, store, logger)

	streamCfg := loadStreamConfig(logger)
	streamCfg.TrustProxy = apiCfg.TrustProxy
	streamHandler := stream.NewHandler(kfCache, store, streamCfg, logger)

	srv := api.NewServer(apiCfg, store, prop, kfCache, streamHandler, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go kfCache.Start(ctx)

	// SIGHUP rereads the catalog file; the cache notices the new catalog and
	// cuts over on its next tick.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				c, err := store.Reload(apiCfg.CatalogPath)
				if err != nil {
					logger.Error("catalog reload failed", "path", apiCfg.CatalogPath, "error", err)
					continue
				}
				metrics.SetCatalogBodies(len(c.Bodies))
				logger.Info("catalog reloaded", "path", apiCfg.CatalogPath, "bodies", len(c.Bodies))
			case <-ctx.Done():
				return
			}
		}
	}()

	// Background goroutine to update the catalog age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				age := store.AgeSeconds()
				if age >= 0 {
					metrics.SetCatalogAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", apiCfg.Addr, "auth_enabled", authCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("ORRERY_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("ORRERY_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("ORRERY_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("ORRERY_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadAPIConfig(logger *slog.Logger) api.Config {
	cfg := api.Config{
		Addr:        ":8080",
		CatalogPath: "catalog.toml",
		RateLimit:   20,
		RateBurst:   40,
	}

	if v := os.Getenv("ORRERY_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}

	if v := os.Getenv("ORRERY_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}

	if v := os.Getenv("ORRERY_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			logger.Warn("invalid ORRERY_RATE_LIMIT value, using default", "value", v, "default", cfg.RateLimit)
		} else {
			cfg.RateLimit = f
		}
	}

	if v := os.Getenv("ORRERY_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_RATE_BURST value, using default", "value", v, "default", cfg.RateBurst)
		} else {
			cfg.RateBurst = n
		}
	}

	if v := os.Getenv("ORRERY_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORRERY_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("api config",
		"addr", cfg.Addr,
		"catalog_path", cfg.CatalogPath,
		"rate_limit", cfg.RateLimit,
		"rate_burst", cfg.RateBurst,
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

func loadCacheConfig(logger *slog.Logger, propCfg propagation.PropConfig) cache.Config {
	cfg := cache.Config{
		Step:    propCfg.Step,
		Horizon: propCfg.Horizon,
		Buffer:  time.Hour,
	}

	if v := os.Getenv("ORRERY_CACHE_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_CACHE_BUFFER value, using default", "value", v, "default", 3600)
		} else {
			cfg.Buffer = time.Duration(n) * time.Second
		}
	}

	logger.Info("cache config",
		"step_seconds", cfg.Step.Seconds(),
		"horizon_seconds", cfg.Horizon.Seconds(),
		"buffer_seconds", cfg.Buffer.Seconds(),
	)

	return cfg
}

func loadPropConfig(logger *slog.Logger) propagation.PropConfig {
	cfg := propagation.PropConfig{
		Workers: runtime.NumCPU(),
		Step:    time.Hour,
		Horizon: 24 * time.Hour,
		Solver:  kepler.Solver{Iterations: kepler.DefaultIterations},
	}

	if v := os.Getenv("ORRERY_PROP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_PROP_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	if v := os.Getenv("ORRERY_KEYFRAME_STEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_KEYFRAME_STEP value, using default", "value", v, "default", 3600)
		} else {
			cfg.Step = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("ORRERY_KEYFRAME_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_KEYFRAME_HORIZON value, using default", "value", v, "default", 86400)
		} else {
			cfg.Horizon = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("ORRERY_SOLVER_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_SOLVER_ITERATIONS value, using default", "value", v, "default", kepler.DefaultIterations)
		} else {
			cfg.Solver.Iterations = n
		}
	}

	if v := os.Getenv("ORRERY_SOLVER_TOLERANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			logger.Warn("invalid ORRERY_SOLVER_TOLERANCE value, using fixed iterations", "value", v)
		} else {
			cfg.Solver.Tolerance = f
		}
	}

	logger.Info("propagation config",
		"workers", cfg.Workers,
		"step_seconds", cfg.Step.Seconds(),
		"horizon_seconds", cfg.Horizon.Seconds(),
		"solver_iterations", cfg.Solver.Iterations,
		"solver_tolerance", cfg.Solver.Tolerance,
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxTotal:           1000,
		KeepaliveInterval:  30 * time.Second,
	}

	if v := os.Getenv("ORRERY_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", cfg.MaxConcurrentPerIP)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("ORRERY_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORRERY_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_total", cfg.MaxTotal,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
	)

	return cfg
}
