package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/async"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

const limiterCleanupInterval = time.Minute

// Config holds permission engine configuration
type Config struct {
	Cache CacheConfig

	// WarmupWorkers bounds warmup parallelism
	WarmupWorkers int

	// WarmupTimeout bounds each user's computation during warmup
	WarmupTimeout time.Duration

	// PurgeSchedule and WarmupSchedule are cron specs; empty disables the job
	PurgeSchedule  string
	WarmupSchedule string

	// RegistryFile adds operation declarations from YAML; RegistryWatch reloads it on change
	RegistryFile  string
	RegistryWatch bool

	// AdminRateLimit limits the cache administration routes; nil disables limiting
	AdminRateLimit *middleware.RateLimitConfig

	// InvalidationTimeout bounds asynchronous invalidations
	InvalidationTimeout time.Duration
}

// DefaultConfig returns default permission engine configuration
func DefaultConfig() Config {
	return Config{
		Cache:               DefaultCacheConfig(),
		WarmupWorkers:       defaultWarmupWorkers,
		WarmupTimeout:       defaultWarmupTimeout,
		PurgeSchedule:       "@every 1m",
		AdminRateLimit:      middleware.AdminRateLimitConfig(),
		InvalidationTimeout: 5 * time.Second,
	}
}

// Manager wires the permission engine components together
type Manager struct {
	db         *sql.DB
	store      *SQLStore
	cache      *PermissionCache
	calculator *Calculator
	checker    *PermissionChecker
	guard      *AccessGuard
	detector   *SuperAdminDetector
	middleware *PermissionMiddleware
	handlers   *Handlers
	limiter    *middleware.RateLimiter
	janitor    *Janitor
	base       *Registry
	registry   *Registry
	config     Config
	logger     *observability.Logger
}

// NewManager creates a new permission engine manager. Metrics may be nil.
func NewManager(db *sql.DB, config Config, logger *observability.Logger, metrics *observability.Metrics) (*Manager, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	base := RegisterOperations(NewRegistry())
	registry := base.Clone()
	if config.RegistryFile != "" {
		loaded, err := LoadRegistryFile(config.RegistryFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load operation registry: %w", err)
		}
		registry.Merge(loaded)
	}

	store := NewSQLStore(db)
	cache := NewPermissionCache(config.Cache,
		WithCacheMetrics(metrics),
		WithCacheLogger(logger),
	)
	calculator := NewCalculator(store, nil)
	checker := NewPermissionChecker(store, cache, calculator, logger,
		WithCheckerMetrics(metrics),
		WithWarmupConcurrency(config.WarmupWorkers, config.WarmupTimeout),
	)
	guard := NewAccessGuard(checker, registry, logger, metrics)
	detector := NewSuperAdminDetector(checker, logger, metrics)
	permissions := NewPermissionMiddleware(guard, detector)

	var limiter *middleware.RateLimiter
	if config.AdminRateLimit != nil {
		limiter = middleware.NewRateLimiter(config.AdminRateLimit)
	}

	return &Manager{
		db:         db,
		store:      store,
		cache:      cache,
		calculator: calculator,
		checker:    checker,
		guard:      guard,
		detector:   detector,
		middleware: permissions,
		handlers:   NewHandlers(checker, permissions, limiter, logger),
		limiter:    limiter,
		janitor:    NewJanitor(checker, logger),
		base:       base,
		registry:   registry,
		config:     config,
		logger:     logger,
	}, nil
}

// Initialize runs pending schema migrations
func (m *Manager) Initialize(ctx context.Context) error {
	applied, err := RunMigrations(ctx, m.db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(applied) > 0 {
		m.logger.WithField("versions", applied).Info("applied permission schema migrations")
	}
	return nil
}

// Start schedules cache maintenance, prunes idle rate limit buckets and, if configured,
// watches the registry file. Background work stops with ctx or Stop.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.janitor.SchedulePurge(m.config.PurgeSchedule); err != nil {
		return err
	}
	if err := m.janitor.ScheduleWarmup(m.config.WarmupSchedule, 0); err != nil {
		return err
	}
	m.janitor.Start()

	if m.limiter != nil {
		m.limiter.StartCleanup(ctx, limiterCleanupInterval)
	}

	if m.config.RegistryFile != "" && m.config.RegistryWatch {
		if err := WatchRegistryFile(ctx, m.config.RegistryFile, m.base, m.registry, m.logger); err != nil {
			return fmt.Errorf("failed to watch operation registry: %w", err)
		}
	}
	return nil
}

// Stop stops the maintenance scheduler
func (m *Manager) Stop(ctx context.Context) error {
	return m.janitor.Stop(ctx)
}

// RegisterRoutes registers the cache administration routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// InvalidateAsync invalidates in the background, for callers reacting to role or
// grant changes that must not wait on the cache
func (m *Manager) InvalidateAsync(ctx context.Context, criteria InvalidationCriteria) {
	async.SafeGo(context.WithoutCancel(ctx), m.logger, m.config.InvalidationTimeout, "permission cache invalidation", func(ctx context.Context) error {
		_, err := m.checker.InvalidateCache(ctx, criteria)
		return err
	})
}

// Store returns the permission store
func (m *Manager) Store() *SQLStore {
	return m.store
}

// Cache returns the permission cache
func (m *Manager) Cache() *PermissionCache {
	return m.cache
}

// Checker returns the permission checker
func (m *Manager) Checker() *PermissionChecker {
	return m.checker
}

// Guard returns the access guard
func (m *Manager) Guard() *AccessGuard {
	return m.guard
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// Registry returns the live operation registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Janitor returns the cache maintenance scheduler
func (m *Manager) Janitor() *Janitor {
	return m.janitor
}

// RateLimiter returns the admin route rate limiter; nil when limiting is disabled
func (m *Manager) RateLimiter() *middleware.RateLimiter {
	return m.limiter
}
