// Package config loads tenantguard configuration from TENANTGUARD_* environment variables.
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Key variables:
//
//	TENANTGUARD_DATABASE_URL        permission store DSN (required)
//	TENANTGUARD_CACHE_ENABLED       bypass the permission cache when false
//	TENANTGUARD_CACHE_TTL           lifetime of cached effective permission sets
//	TENANTGUARD_CACHE_MAX_ENTRIES   capacity before oldest-first eviction
//	TENANTGUARD_PURGE_SCHEDULE      cron spec for expired-entry purges
//	TENANTGUARD_WARMUP_SCHEDULE     cron spec for full cache warmups
//	TENANTGUARD_REGISTRY_FILE       YAML operation permission registry
//	TENANTGUARD_LOG_LEVEL           debug, info, warn or error
package config
