package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

const envPrefix = "TENANTGUARD_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Permissions   PermissionConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the permission store connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// PermissionConfig holds permission cache and guard settings
type PermissionConfig struct {
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int

	// WarmupWorkers bounds the parallelism of cache warmup
	WarmupWorkers int
	// WarmupTimeout bounds each user's computation during warmup
	WarmupTimeout time.Duration

	// PurgeSchedule is a cron spec for expired-entry purges; empty disables it
	PurgeSchedule string
	// WarmupSchedule is a cron spec for full cache warmups; empty disables it
	WarmupSchedule string

	// RegistryFile is an optional YAML file of operation permission requirements
	RegistryFile  string
	RegistryWatch bool

	// AdminRequestsPerSecond rate limits the cache administration endpoints
	AdminRequestsPerSecond float64
	AdminBurst             int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Permissions:   loadPermissionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("DATABASE_AUTO_MIGRATE", false),
	}
}

func loadPermissionConfig() PermissionConfig {
	return PermissionConfig{
		CacheEnabled:           getEnvBool("CACHE_ENABLED", true),
		CacheTTL:               getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheMaxEntries:        getEnvInt("CACHE_MAX_ENTRIES", 10000),
		WarmupWorkers:          getEnvInt("WARMUP_WORKERS", 8),
		WarmupTimeout:          getEnvDuration("WARMUP_TIMEOUT", 5*time.Second),
		PurgeSchedule:          getEnv("PURGE_SCHEDULE", "@every 1m"),
		WarmupSchedule:         getEnv("WARMUP_SCHEDULE", ""),
		RegistryFile:           getEnv("REGISTRY_FILE", ""),
		RegistryWatch:          getEnvBool("REGISTRY_WATCH", true),
		AdminRequestsPerSecond: getEnvFloat("ADMIN_REQUESTS_PER_SECOND", 1),
		AdminBurst:             getEnvInt("ADMIN_BURST", 5),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "tenantguard"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database pool sizes must not be negative")
	}

	p := c.Permissions
	if p.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", p.CacheTTL)
	}
	if p.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive, got %d", p.CacheMaxEntries)
	}
	if p.WarmupWorkers <= 0 {
		return fmt.Errorf("warmup workers must be positive, got %d", p.WarmupWorkers)
	}
	if p.AdminRequestsPerSecond <= 0 || p.AdminBurst <= 0 {
		return fmt.Errorf("admin rate limit must be positive")
	}
	for name, spec := range map[string]string{"purge": p.PurgeSchedule, "warmup": p.WarmupSchedule} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns a prefixed environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
