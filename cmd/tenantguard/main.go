package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

const maxRequestBytes = 1 << 20

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate", false, "Apply schema migrations and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("tenantguard exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx := context.Background()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}

	if migrateOnly {
		defer db.Close()
		applied, err := rbac.RunMigrations(ctx, db)
		if err != nil {
			return err
		}
		logger.WithField("versions", applied).Info("migrations applied")
		return nil
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	manager, err := rbac.NewManager(db, permissionConfig(cfg.Permissions), logger, metrics)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := manager.Initialize(ctx); err != nil {
			return err
		}
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	if err := manager.Start(bgCtx); err != nil {
		stopBackground()
		return err
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)

	health := observability.NewHealthChecker(db, version)
	health.AddCheck("permission_cache", func(ctx context.Context) observability.DependencyStatus {
		stats := manager.Cache().Statistics()
		status := observability.DependencyStatus{Status: observability.StatusHealthy, Timestamp: time.Now()}
		if !stats.Enabled {
			status.Status = observability.StatusDegraded
			status.Message = "cache disabled"
		}
		return status
	})
	observability.RegisterHealthRoutes(router, health)

	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		observability.RegisterMetricsEndpoint(router, registry)
		go reportDBStats(bgCtx, db, metrics)
	}

	api := router.PathPrefix("/").Subrouter()
	api.Use(middleware.NewTrustedHeaderAuth().Handler)
	manager.RegisterRoutes(api)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "tenantguard"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return db.Close()
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc("permission janitor", func(ctx context.Context) error {
		stopBackground()
		return manager.Stop(ctx)
	})

	go func() {
		logger.WithField("addr", server.Addr).Info("starting tenantguard server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func permissionConfig(p config.PermissionConfig) rbac.Config {
	cfg := rbac.DefaultConfig()
	cfg.Cache = rbac.CacheConfig{
		TTL:        p.CacheTTL,
		MaxEntries: p.CacheMaxEntries,
		Enabled:    p.CacheEnabled,
	}
	cfg.WarmupWorkers = p.WarmupWorkers
	cfg.WarmupTimeout = p.WarmupTimeout
	cfg.PurgeSchedule = p.PurgeSchedule
	cfg.WarmupSchedule = p.WarmupSchedule
	cfg.RegistryFile = p.RegistryFile
	cfg.RegistryWatch = p.RegistryWatch
	cfg.AdminRateLimit = &middleware.RateLimitConfig{
		RequestsPerSecond: p.AdminRequestsPerSecond,
		BurstSize:         p.AdminBurst,
	}
	return cfg
}

// reportDBStats publishes connection pool gauges until ctx is done
func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(db.Stats())
		}
	}
}
