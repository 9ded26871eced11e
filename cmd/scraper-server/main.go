// Package main provides the entry point for the scraper server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/refyne-api/scraper/internal/api/handlers"
	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/config"
	"github.com/jmylchreest/refyne-api/scraper/internal/cookiejar"
	"github.com/jmylchreest/refyne-api/scraper/internal/extract"
	"github.com/jmylchreest/refyne-api/scraper/internal/http/mw"
	"github.com/jmylchreest/refyne-api/scraper/internal/logging"
	"github.com/jmylchreest/refyne-api/scraper/internal/metrics"
	"github.com/jmylchreest/refyne-api/scraper/internal/queue"
	"github.com/jmylchreest/refyne-api/scraper/internal/scraper"
	"github.com/jmylchreest/refyne-api/scraper/internal/shutdown"
	"github.com/jmylchreest/refyne-api/scraper/internal/solver"
	"github.com/jmylchreest/refyne-api/scraper/internal/version"
)

func main() {
	// Load configuration first (logging config comes from env)
	cfg := config.Load()

	// Initialize logger using slog-logfilter (respects LOG_LEVEL, LOG_FORMAT env vars)
	logger := logging.SetDefault()

	logger.Info("starting scraper server",
		"version", version.Get().String(),
		"port", cfg.Port,
		"pool_max_instances", cfg.PoolMaxInstances,
		"queue_max_concurrent", cfg.QueueMaxConcurrent,
		"queue_requests_per_minute", cfg.QueueRequestsPerMinute,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var profiles scraper.Profiles
	if cfg.ProfilesPath != "" {
		var err error
		profiles, err = scraper.LoadProfiles(cfg.ProfilesPath)
		if err != nil {
			logger.Error("failed to load scraper profiles", "path", cfg.ProfilesPath, "error", err)
			os.Exit(1)
		}
		logger.Info("scraper profiles loaded", "path", cfg.ProfilesPath, "profiles", len(profiles))
	}

	// Browsers are launched on demand up to the pool cap
	launcher := browser.NewRodLauncher(logger)
	launch := browser.LaunchOptions{
		Headless:      true,
		ChromePath:    cfg.ChromePath,
		ExtensionPath: cfg.ExtensionPath,
	}
	pool := browser.NewPool(browser.PoolConfig{
		MaxInstances:   cfg.PoolMaxInstances,
		MaxIdle:        cfg.PoolMaxIdle,
		AcquireTimeout: cfg.PoolAcquireTimeout,
		SweepInterval:  cfg.PoolSweepInterval,
		// Pooled browsers are headless and never carry the extension
		Launch: browser.LaunchOptions{Headless: true, ChromePath: cfg.ChromePath},
	}, launcher, logger)
	defer pool.Destroy()
	pool.StartSweeper(ctx)

	q := queue.New(queue.Config{
		MaxConcurrent:     cfg.QueueMaxConcurrent,
		RequestsPerMinute: cfg.QueueRequestsPerMinute,
	}, queue.WithLogger(logger))

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		m.WatchPool(pool)
		m.WatchQueue(q)
	}

	// Optional cookie persistence
	var jar cookiejar.Jar
	if cfg.CookieDBPath != "" {
		sqliteJar, err := cookiejar.NewSQLiteJar(cfg.CookieDBPath, logger)
		if err != nil {
			logger.Error("failed to open cookie jar", "path", cfg.CookieDBPath, "error", err)
			os.Exit(1)
		}
		defer sqliteJar.Close()
		go sqliteJar.StartCleanup(ctx, cfg.CookieSweepTick, cfg.CookieMaxAge)
		jar = sqliteJar
		logger.Info("cookie persistence enabled", "path", cfg.CookieDBPath, "max_age", cfg.CookieMaxAge)
	}

	keys := solver.Keys{
		TwoCaptcha:  cfg.TwoCaptchaAPIKey,
		CapSolver:   cfg.CapSolverAPIKey,
		AntiCaptcha: cfg.AntiCaptchaAPIKey,
	}
	go logSolvers(ctx, logger, keys, cfg.ExtensionPath)

	orchestrator := scraper.NewOrchestrator(scraper.OrchestratorOptions{
		NewSession: scraper.BrowserSessions(pool, launcher, launch, logger),
		Keys:       keys,
		Jar:        jar,
		Metrics:    m,
		Logger:     logger,
	})
	registry := scraper.NewRegistry(extract.Google{}, extract.Generic{})
	service := scraper.NewService(registry, profiles, orchestrator, q, logger)

	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout: cfg.IdleTimeout,
		Logger:  logger,
		Busy:    q.Busy,
	})
	idle.Start()
	defer idle.Stop()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(pool, q)
	scrapeHandler := handlers.NewScrapeHandler(service, logger)
	queueHandler := handlers.NewQueueHandler(q, logger)

	routeTimeout := cfg.RouteTimeout
	if routeTimeout <= 0 {
		routeTimeout = scraper.WorstCase(scraper.DefaultConfig()) + 30*time.Second
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogContext)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(idle.Middleware)
	r.Use(middleware.Timeout(routeTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.RateLimitByIP(cfg.HTTPRateLimit))

	if cfg.AuthEnabled() {
		logger.Info("authentication middleware enabled",
			"api_keys", len(cfg.APIKeys),
			"has_jwt_secret", cfg.JWTSecret != "",
			"required_scope", cfg.RequiredScope,
		)
	} else if cfg.AllowUnauthenticated {
		logger.Warn("authentication disabled - ALLOW_UNAUTHENTICATED is set")
	} else {
		logger.Warn("no authentication configured - service is unprotected")
	}

	// Create Huma API
	humaConfig := huma.DefaultConfig("Scraper Server", version.Get().Version)
	humaConfig.Info.Description = "Headless browser scraping service with challenge resolution"
	api := humachi.New(r, humaConfig)

	// Health and metrics need no auth
	healthHandler.Register(api)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Protected routes
	protectedRouter := chi.NewRouter()
	if cfg.AuthEnabled() {
		protectedRouter.Use(mw.Auth(mw.AuthConfig{
			APIKeys:       cfg.APIKeys,
			JWTSecret:     cfg.JWTSecret,
			RequiredScope: cfg.RequiredScope,
			Logger:        logger,
		}))
	}
	protectedAPI := humachi.New(protectedRouter, humaConfig)
	scrapeHandler.Register(protectedAPI)
	queueHandler.Register(protectedAPI)

	// Mount protected routes on main router
	r.Mount("/", protectedRouter)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: routeTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", addr, "route_timeout", routeTimeout)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal or idle shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutting down server...")
	case <-idle.ShutdownChan():
		logger.Info("shutting down idle server...")
	}

	// Cancel context to stop background tasks
	cancel()

	if n := q.Clear(); n > 0 {
		logger.Info("rejected pending scrapes", "count", n)
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func logSolvers(ctx context.Context, logger *slog.Logger, keys solver.Keys, extensionPath string) {
	if extensionPath != "" {
		logger.Info("solver extension configured", "path", extensionPath)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	for _, b := range solver.Balances(ctx, solver.Configured(keys)...) {
		if b.Err != nil {
			logger.Warn("remote solver balance unavailable", "provider", b.Provider, "error", b.Err)
			continue
		}
		logger.Info("remote solver key configured", "provider", b.Provider, "balance", b.Balance)
	}
}
