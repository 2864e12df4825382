package rbac

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// KindEffectivePermissions is the cache key kind of effective permission sets
const KindEffectivePermissions = "effective_permissions"

const (
	defaultCacheTTL        = 5 * time.Minute
	defaultCacheMaxEntries = 10000

	// a full cache drops 1/evictionDivisor of its entries, rounded up
	evictionDivisor = 10

	// rough per-entry overheads used by the memory estimate
	entryOverheadBytes      = 160
	permissionOverheadBytes = 96
)

// CacheKey identifies a cached value. An empty CompanyID means no company was supplied.
type CacheKey struct {
	Kind      string
	UserID    string
	CompanyID string
}

// EffectivePermissionsKey returns the key of a user's effective permission set
func EffectivePermissionsKey(userID, companyID string) CacheKey {
	return CacheKey{Kind: KindEffectivePermissions, UserID: userID, CompanyID: companyID}
}

func (k CacheKey) String() string {
	company := k.CompanyID
	if company == "" {
		company = "*"
	}
	return k.Kind + ":" + k.UserID + ":" + company
}

// CacheConfig configures the permission cache
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
	Enabled    bool
}

// DefaultCacheConfig returns an enabled cache with a five minute TTL
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        defaultCacheTTL,
		MaxEntries: defaultCacheMaxEntries,
		Enabled:    true,
	}
}

// CacheStatistics is a point-in-time view of the cache
type CacheStatistics struct {
	Enabled             bool       `json:"enabled"`
	TotalEntries        int        `json:"total_entries"`
	ActiveEntries       int        `json:"active_entries"`
	ExpiredPurged       int        `json:"expired_purged"`
	TotalHits           int64      `json:"total_hits"`
	Misses              int64      `json:"misses"`
	Evictions           int64      `json:"evictions"`
	HitRate             float64    `json:"hit_rate"`
	MemoryEstimateBytes int64      `json:"memory_estimate_bytes"`
	OldestEntry         *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry         *time.Time `json:"newest_entry,omitempty"`
	TTLSeconds          float64    `json:"ttl_seconds"`
	MaxEntries          int        `json:"max_entries"`
}

type cacheEntry struct {
	value     *EffectivePermissionSet
	createdAt time.Time
	expiresAt time.Time
	hitCount  int64
}

// CacheOption configures a PermissionCache
type CacheOption func(*PermissionCache)

// WithCacheClock overrides the clock used for expiry
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *PermissionCache) {
		c.now = now
	}
}

// WithCacheMetrics records hits, misses, evictions and size
func WithCacheMetrics(metrics *observability.Metrics) CacheOption {
	return func(c *PermissionCache) {
		c.metrics = metrics
	}
}

// WithCacheLogger sets the logger used for eviction events
func WithCacheLogger(logger *observability.Logger) CacheOption {
	return func(c *PermissionCache) {
		c.logger = logger
	}
}

// PermissionCache is an in-memory TTL cache of effective permission sets.
// Entries are kept in insertion order; reads never reorder them.
type PermissionCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[CacheKey, *cacheEntry]
	config  CacheConfig

	hits      int64
	misses    int64
	evictions int64

	now     func() time.Time
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewPermissionCache creates a new permission cache
func NewPermissionCache(config CacheConfig, opts ...CacheOption) *PermissionCache {
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultCacheMaxEntries
	}

	// Size is always positive here, so construction cannot fail
	entries, _ := simplelru.NewLRU[CacheKey, *cacheEntry](config.MaxEntries, nil)

	c := &PermissionCache{
		entries: entries,
		config:  config,
		now:     time.Now,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the cache stores anything
func (c *PermissionCache) Enabled() bool {
	return c.config.Enabled
}

// TTL returns the default entry lifetime
func (c *PermissionCache) TTL() time.Duration {
	return c.config.TTL
}

// Get returns the cached set while it has not expired. Expired entries are removed.
func (c *PermissionCache) Get(key CacheKey) (*EffectivePermissionSet, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		c.recordMiss()
		return nil, false
	}

	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		c.recordEvictions("expired", 1)
		c.recordMiss()
		c.updateSize()
		return nil, false
	}

	e.hitCount++
	c.hits++
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(key.Kind).Inc()
	}
	return e.value, true
}

// Put stores a value for ttl; ttl <= 0 uses the configured TTL. The entry never
// outlives the earliest grant expiry in the set. A full cache first drops its oldest tenth.
func (c *PermissionCache) Put(key CacheKey, value *EffectivePermissionSet, ttl time.Duration) {
	if !c.config.Enabled {
		return
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries.Contains(key) {
		// Re-insertion moves the key to the newest position
		c.entries.Remove(key)
	} else if c.entries.Len() >= c.config.MaxEntries {
		c.evictOldest()
	}

	now := c.now()
	expiresAt := now.Add(ttl)
	if next := value.NextExpiry(); next != nil && next.Before(expiresAt) {
		expiresAt = *next
	}
	c.entries.Add(key, &cacheEntry{
		value:     value,
		createdAt: now,
		expiresAt: expiresAt,
	})
	c.updateSize()
}

// evictOldest removes the oldest ~10% of entries, at least one. Caller holds mu.
func (c *PermissionCache) evictOldest() {
	n := (c.entries.Len() + evictionDivisor - 1) / evictionDivisor
	if n < 1 {
		n = 1
	}

	removed := 0
	for i := 0; i < n; i++ {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
		removed++
	}

	c.recordEvictions("capacity", removed)
	c.logger.WithFields(map[string]interface{}{
		"evicted":     removed,
		"max_entries": c.config.MaxEntries,
	}).Debug("permission cache at capacity, evicted oldest entries")
}

// Delete removes keys and returns the ones that were present
func (c *PermissionCache) Delete(keys ...CacheKey) []CacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []CacheKey
	for _, key := range keys {
		if c.entries.Remove(key) {
			removed = append(removed, key)
		}
	}
	c.updateSize()
	return removed
}

// KeysForUsers returns every cached key belonging to one of the users
func (c *PermissionCache) KeysForUsers(userIDs []string) []CacheKey {
	if len(userIDs) == 0 {
		return nil
	}

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []CacheKey
	for _, key := range c.entries.Keys() {
		if _, ok := wanted[key.UserID]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Clear removes every entry and returns the removed keys
func (c *PermissionCache) Clear() []CacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.entries.Keys()
	c.entries.Purge()
	c.updateSize()
	return keys
}

// Len returns the number of stored entries, expired ones included
func (c *PermissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Statistics purges expired entries and reports on the rest
func (c *PermissionCache) Statistics() CacheStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := CacheStatistics{
		Enabled:      c.config.Enabled,
		TotalEntries: c.entries.Len(),
		TTLSeconds:   c.config.TTL.Seconds(),
		MaxEntries:   c.config.MaxEntries,
	}

	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if !now.Before(e.expiresAt) {
			c.entries.Remove(key)
			stats.ExpiredPurged++
			continue
		}

		stats.ActiveEntries++
		stats.MemoryEstimateBytes += estimateEntrySize(key, e)

		createdAt := e.createdAt
		if stats.OldestEntry == nil || createdAt.Before(*stats.OldestEntry) {
			stats.OldestEntry = &createdAt
		}
		if stats.NewestEntry == nil || createdAt.After(*stats.NewestEntry) {
			stats.NewestEntry = &createdAt
		}
	}
	c.recordEvictions("expired", stats.ExpiredPurged)
	c.updateSize()

	stats.TotalHits = c.hits
	stats.Misses = c.misses
	stats.Evictions = c.evictions
	if lookups := c.hits + c.misses; lookups > 0 {
		stats.HitRate = float64(c.hits) / float64(lookups)
	}
	return stats
}

func estimateEntrySize(key CacheKey, e *cacheEntry) int64 {
	size := int64(entryOverheadBytes + len(key.Kind) + len(key.UserID) + len(key.CompanyID))
	if e.value == nil {
		return size
	}
	size += int64(len(e.value.UserID) + len(e.value.CompanyID))
	for _, p := range e.value.Permissions {
		size += int64(permissionOverheadBytes + len(p.Name) + len(p.Category) + len(p.SourceRoleName))
	}
	return size
}

func (c *PermissionCache) recordMiss() {
	c.misses++
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(KindEffectivePermissions).Inc()
	}
}

func (c *PermissionCache) recordEvictions(reason string, n int) {
	if n <= 0 {
		return
	}
	c.evictions += int64(n)
	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.WithLabelValues(KindEffectivePermissions, reason).Add(float64(n))
	}
}

func (c *PermissionCache) updateSize() {
	if c.metrics != nil {
		c.metrics.CacheEntries.WithLabelValues(KindEffectivePermissions).Set(float64(c.entries.Len()))
	}
}
