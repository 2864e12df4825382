// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// tracing, health checks and graceful shutdown for tenantguard.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", userID).WithError(err).Error("permission check failed")
//
// FromContext enriches the context logger with the request id, user id and the active
// trace/span ids.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.AccessDecisionsTotal.WithLabelValues("deny", "insufficient_permissions").Inc()
//	metrics.CacheHitsTotal.WithLabelValues("effective_permissions").Inc()
//
// HTTP metrics are labelled with the gorilla/mux route template, not the raw path.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//	ctx, span := observability.Tracer().Start(ctx, "rbac.CheckBulk")
//
// # Health and Shutdown
//
// HealthChecker exposes /health/live and /health/ready; the database is critical,
// registered component checks only degrade. ShutdownManager stops the HTTP server and
// then runs registered shutdown functions in reverse order.
package observability
