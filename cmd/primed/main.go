package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/primectl/primed/cmd/primed/config"
	"github.com/primectl/primed/lib/gpu"
	"github.com/primectl/primed/lib/helpers"
	mw "github.com/primectl/primed/lib/middleware"
	"github.com/primectl/primed/lib/otel"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	// OTel must come up before wire so the logger provider sees its handler
	cfg := config.Load()

	otelCfg := otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	}

	otelProvider, otelShutdown, err := otel.Init(context.Background(), otelCfg)
	if err != nil {
		// Log warning but don't fail - graceful degradation
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
	}
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	if otelProvider != nil && otelProvider.Meter != nil {
		gpuMetrics, err := gpu.NewMetrics(otelProvider.Meter)
		if err == nil {
			gpu.SetMetrics(gpuMetrics)
		}
	}
	if otelProvider != nil && otelProvider.LogHandler != nil {
		otel.SetGlobalLogHandler(otelProvider.LogHandler)
	}

	// Initialize app with wire
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger

	if cfg.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "endpoint", cfg.OtelEndpoint, "service", cfg.OtelServiceName)
	}

	// Report which helpers this host actually has; a missing helper disables
	// the operations that need it but is never fatal.
	installed := app.Resolver.Installed()
	for _, role := range app.Resolver.Roles() {
		if path, ok := installed[role]; ok {
			logger.Info("helper resolved", "role", role, "path", path)
		} else {
			logger.Warn("helper not found, dependent operations disabled", "role", role)
		}
	}
	if _, ok := app.Resolver.Resolve(helpers.RoleSelector); !ok {
		logger.Warn("no GPU selector on this host; switching is unavailable")
	}

	// Watch the persisted selection for external changes
	if err := app.Watcher.Start(app.Ctx); err != nil {
		logger.Warn("failed to watch selection state, external changes will go unnoticed",
			"path", cfg.PrimeStatePath, "error", err)
	}
	defer app.Watcher.Stop()

	// Create router
	r := chi.NewRouter()

	var httpMetricsMw func(http.Handler) http.Handler
	if otelProvider != nil && otelProvider.Meter != nil {
		httpMetrics, err := mw.NewHTTPMetrics(otelProvider.Meter)
		if err == nil {
			httpMetricsMw = httpMetrics.Middleware
		}
	}

	// Events endpoint streams SSE and must not sit behind the request timeout
	r.With(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.InjectLogger(logger),
		mw.AccessLogger(logger),
	).Get("/v1/events", app.ApiService.Events)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)

		// Tracing middleware first so the rest sees span context
		if cfg.OtelEnabled {
			r.Use(otelchi.Middleware(cfg.OtelServiceName, otelchi.WithChiRoutes(r)))
		}

		r.Use(mw.InjectLogger(logger))
		r.Use(mw.AccessLogger(logger))
		if httpMetricsMw != nil {
			r.Use(httpMetricsMw)
		}
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/v1/gpu", app.ApiService.GetGPU)
		r.Post("/v1/gpu/switch", app.ApiService.SwitchGPU)
		r.Post("/v1/gpu/settings", app.ApiService.LaunchSettings)
	})

	// Unauthenticated liveness endpoint
	r.Get("/health", app.ApiService.GetHealth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting primed control API", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		app.Watcher.Stop()

		// Use WithoutCancel to preserve context values while preventing cancellation
		shutdownCtx := context.WithoutCancel(gctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}
		logger.Info("http server shutdown complete")
		return nil
	})

	err = grp.Wait()
	slog.Info("all goroutines finished")
	return err
}
