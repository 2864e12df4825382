package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantguard/pkg/async"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

const (
	defaultWarmupWorkers = 8
	defaultWarmupTimeout = 5 * time.Second
)

// Checker answers permission questions for a user
type Checker interface {
	// Check reports whether the user holds one permission
	Check(ctx context.Context, req CheckRequest) (*CheckResult, error)

	// CheckBulk checks several permissions against one snapshot of the user's set
	CheckBulk(ctx context.Context, req BulkCheckRequest) (*BulkCheckResult, error)

	// IsSuperAdmin reports whether the user holds the super-admin role
	IsSuperAdmin(ctx context.Context, userID string) (bool, error)
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithCheckerMetrics records check counts and latency
func WithCheckerMetrics(metrics *observability.Metrics) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.metrics = metrics
	}
}

// WithWarmupConcurrency bounds cache warmup parallelism and the per-user timeout
func WithWarmupConcurrency(workers int, timeout time.Duration) CheckerOption {
	return func(pc *PermissionChecker) {
		if workers > 0 {
			pc.warmupWorkers = workers
		}
		if timeout > 0 {
			pc.warmupTimeout = timeout
		}
	}
}

// PermissionChecker serves permission checks from the cache, computing and storing
// effective sets on a miss. Errors other than not found, validation and forbidden are
// logged and replaced by a generic failure.
type PermissionChecker struct {
	store      Store
	cache      *PermissionCache
	calculator *Calculator
	logger     *observability.Logger
	metrics    *observability.Metrics

	// concurrent misses for the same key share one computation
	group singleflight.Group

	warmupWorkers int
	warmupTimeout time.Duration
}

var _ Checker = (*PermissionChecker)(nil)

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker(store Store, cache *PermissionCache, calculator *Calculator, logger *observability.Logger, opts ...CheckerOption) *PermissionChecker {
	if logger == nil {
		logger = observability.NopLogger()
	}

	pc := &PermissionChecker{
		store:         store,
		cache:         cache,
		calculator:    calculator,
		logger:        logger,
		warmupWorkers: defaultWarmupWorkers,
		warmupTimeout: defaultWarmupTimeout,
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// EffectivePermissions returns the user's effective set and whether it came from the cache
func (pc *PermissionChecker) EffectivePermissions(ctx context.Context, userID, companyID string, forceRefresh bool) (*EffectivePermissionSet, bool, error) {
	if err := validateUserID(userID); err != nil {
		return nil, false, err
	}

	set, fromCache, err := pc.snapshot(ctx, userID, companyID, forceRefresh)
	if err != nil {
		return nil, false, pc.boundary(ctx, "effective_permissions", userID, err)
	}
	return set, fromCache, nil
}

// UserCompany returns the company a user belongs to, read through the cache
func (pc *PermissionChecker) UserCompany(ctx context.Context, userID string) (string, error) {
	set, _, err := pc.EffectivePermissions(ctx, userID, "", false)
	if err != nil {
		return "", err
	}
	return set.CompanyID, nil
}

// snapshot reads through the cache. Errors are returned unfiltered.
func (pc *PermissionChecker) snapshot(ctx context.Context, userID, companyID string, forceRefresh bool) (*EffectivePermissionSet, bool, error) {
	key := EffectivePermissionsKey(userID, companyID)

	if !forceRefresh {
		if set, ok := pc.cache.Get(key); ok {
			return set, true, nil
		}
	}

	flight := key.String()
	if forceRefresh {
		flight += "#refresh"
	}

	resultChan := pc.group.DoChan(flight, func() (interface{}, error) {
		set, err := pc.calculator.ComputeEffectivePermissions(ctx, userID, companyID)
		if err != nil {
			return nil, err
		}
		pc.cache.Put(key, set, 0)
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*EffectivePermissionSet), false, nil
	}
}

// Check reports whether the user holds one permission
func (pc *PermissionChecker) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if req.Permission == "" {
		return nil, Validationf("permission is required")
	}

	bulk, err := pc.checkBulk(ctx, "check", BulkCheckRequest{
		UserID:       req.UserID,
		Permissions:  []string{req.Permission},
		CompanyID:    req.CompanyID,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}

	result := bulk.Results[0]
	return &result, nil
}

// CheckBulk checks every requested name against the same effective set
func (pc *PermissionChecker) CheckBulk(ctx context.Context, req BulkCheckRequest) (*BulkCheckResult, error) {
	if len(req.Permissions) == 0 {
		return nil, Validationf("at least one permission is required")
	}
	return pc.checkBulk(ctx, "check_bulk", req)
}

func (pc *PermissionChecker) checkBulk(ctx context.Context, operation string, req BulkCheckRequest) (*BulkCheckResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.CheckBulk")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("rbac.requested", len(req.Permissions)),
	)

	if err := validateUserID(req.UserID); err != nil {
		pc.recordCheck(operation, "error")
		return nil, err
	}

	start := time.Now()
	set, fromCache, err := pc.snapshot(ctx, req.UserID, req.CompanyID, req.ForceRefresh)
	if err != nil {
		pc.recordCheck(operation, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission check")
		return nil, pc.boundary(ctx, operation, req.UserID, err)
	}

	result := &BulkCheckResult{
		UserID:       req.UserID,
		Results:      make([]CheckResult, 0, len(req.Permissions)),
		TotalChecked: len(req.Permissions),
		FromCache:    fromCache,
	}

	for _, name := range req.Permissions {
		r := CheckResult{Permission: name, FromCache: fromCache}
		if p, ok := set.Lookup(name); ok && p.IsActive {
			r.Granted = true
			r.Source = p.Source
			r.SourceRoleName = p.SourceRoleName
			result.GrantedCount++
		}
		result.Results = append(result.Results, r)
	}

	if pc.metrics != nil {
		source := "computed"
		if fromCache {
			source = "cache"
		}
		pc.metrics.PermissionCheckDuration.WithLabelValues(operation, source).Observe(time.Since(start).Seconds())
	}
	if result.AllGranted() {
		pc.recordCheck(operation, "granted")
	} else {
		pc.recordCheck(operation, "denied")
	}

	span.SetAttributes(
		attribute.Int("rbac.granted", result.GrantedCount),
		attribute.Bool("rbac.from_cache", fromCache),
	)
	return result, nil
}

// IsSuperAdmin reports whether the user holds the super-admin role
func (pc *PermissionChecker) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}

	ok, err := pc.calculator.IsSuperAdmin(ctx, userID)
	if err != nil {
		return false, pc.boundary(ctx, "is_super_admin", userID, err)
	}
	return ok, nil
}

// InvalidateCache drops the cache entries selected by exactly one criterion
func (pc *PermissionChecker) InvalidateCache(ctx context.Context, criteria InvalidationCriteria) (*InvalidationResult, error) {
	if criteria.selectors() != 1 {
		return nil, Validationf("exactly one of user_id, company_id, role_id, permission or all is required")
	}

	var removed []CacheKey
	if criteria.All {
		removed = pc.cache.Clear()
	} else {
		userIDs, err := pc.affectedUsers(ctx, criteria)
		if err != nil {
			return nil, pc.boundary(ctx, "invalidate", criteria.UserID, err)
		}
		removed = pc.cache.Delete(pc.cache.KeysForUsers(userIDs)...)
	}

	result := &InvalidationResult{
		InvalidatedCount: len(removed),
		InvalidatedKeys:  make([]string, len(removed)),
		Reason:           criteria.Reason,
	}
	for i, key := range removed {
		result.InvalidatedKeys[i] = key.String()
	}

	if pc.metrics != nil {
		pc.metrics.CacheInvalidationsTotal.WithLabelValues(criteria.criterion()).Inc()
	}
	observability.UpdateLoggerWithTraceContext(ctx, pc.logger).WithFields(map[string]interface{}{
		"criterion":   criteria.criterion(),
		"invalidated": result.InvalidatedCount,
		"reason":      criteria.Reason,
	}).Info("permission cache invalidated")

	return result, nil
}

// affectedUsers resolves the users a non-global criterion selects
func (pc *PermissionChecker) affectedUsers(ctx context.Context, criteria InvalidationCriteria) ([]string, error) {
	switch {
	case criteria.UserID != "":
		return []string{criteria.UserID}, nil
	case criteria.CompanyID != "":
		return pc.store.ListUserIDsByCompany(ctx, criteria.CompanyID)
	case criteria.RoleID != "":
		return pc.store.ListUserIDsByRole(ctx, criteria.RoleID)
	default:
		return pc.store.ListUserIDsByPermission(ctx, criteria.Permission)
	}
}

// WarmupCache precomputes and caches the effective sets of the selected users.
// Per-user failures are collected, not fatal.
func (pc *PermissionChecker) WarmupCache(ctx context.Context, criteria WarmupCriteria) (*WarmupResult, error) {
	if !pc.cache.Enabled() {
		return nil, Validationf("permission cache is disabled")
	}

	selectors := 0
	for _, set := range []bool{len(criteria.UserIDs) > 0, criteria.CompanyID != "", criteria.RoleID != ""} {
		if set {
			selectors++
		}
	}
	if selectors > 1 {
		return nil, Validationf("at most one of user_ids, company_id or role_id may be set")
	}

	start := time.Now()

	userIDs, err := pc.warmupUsers(ctx, criteria)
	if err != nil {
		return nil, pc.boundary(ctx, "warmup", "", err)
	}
	if criteria.Limit > 0 && len(userIDs) > criteria.Limit {
		userIDs = userIDs[:criteria.Limit]
	}

	errs := async.Batch(ctx, userIDs, pc.warmupWorkers, pc.warmupTimeout, func(ctx context.Context, userID string) error {
		if err := validateUserID(userID); err != nil {
			return err
		}

		set, err := pc.calculator.ComputeEffectivePermissions(ctx, userID, "")
		if err != nil {
			return err
		}

		// Checks arrive with and without company context
		pc.cache.Put(EffectivePermissionsKey(userID, ""), set, 0)
		pc.cache.Put(EffectivePermissionsKey(userID, set.CompanyID), set, 0)
		return nil
	})

	result := &WarmupResult{
		UsersProcessed: len(userIDs),
		Errors:         []string{},
	}
	for i, err := range errs {
		if err == nil {
			result.WarmedCount++
			continue
		}
		if !isPassThrough(err) {
			pc.logger.WithError(err).WithField("user_id", userIDs[i]).Error("permission cache warmup failed for user")
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", userIDs[i], SanitizeError(err)))
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if pc.metrics != nil {
		pc.metrics.CacheWarmupUsersTotal.WithLabelValues("warmed").Add(float64(result.WarmedCount))
		pc.metrics.CacheWarmupUsersTotal.WithLabelValues("failed").Add(float64(async.CountErrors(errs)))
	}
	pc.logger.WithFields(map[string]interface{}{
		"warmed":      result.WarmedCount,
		"processed":   result.UsersProcessed,
		"failed":      len(result.Errors),
		"duration_ms": result.DurationMs,
	}).Info("permission cache warmed")

	return result, nil
}

func (pc *PermissionChecker) warmupUsers(ctx context.Context, criteria WarmupCriteria) ([]string, error) {
	switch {
	case len(criteria.UserIDs) > 0:
		return criteria.UserIDs, nil
	case criteria.CompanyID != "":
		return pc.store.ListUserIDsByCompany(ctx, criteria.CompanyID)
	case criteria.RoleID != "":
		return pc.store.ListUserIDsByRole(ctx, criteria.RoleID)
	default:
		return pc.store.ListUserIDs(ctx, criteria.Limit)
	}
}

// CacheStatistics reports on the cache, purging expired entries
func (pc *PermissionChecker) CacheStatistics() CacheStatistics {
	return pc.cache.Statistics()
}

// boundary passes caller errors through and replaces everything else
func (pc *PermissionChecker) boundary(ctx context.Context, operation, userID string, err error) error {
	if isPassThrough(err) {
		return err
	}

	observability.UpdateLoggerWithTraceContext(ctx, pc.logger).WithError(err).WithFields(map[string]interface{}{
		"operation": operation,
		"user_id":   userID,
	}).Error("permission check failed")
	return internalFailure()
}

func (pc *PermissionChecker) recordCheck(operation, result string) {
	if pc.metrics != nil {
		pc.metrics.PermissionChecksTotal.WithLabelValues(operation, result).Inc()
	}
}

func validateUserID(userID string) error {
	if userID == "" {
		return Validationf("user id is required")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return Validationf("invalid user id")
	}
	return nil
}
