package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// ManageCachePermission is required by every cache administration route
const ManageCachePermission = "MANAGE_PERMISSION_CACHE"

var errCrossTenant = Forbidden("cross-tenant access denied")

// ScopePermissionCache groups the cache administration operations
const ScopePermissionCache = "permission_cache"

// Operation ids of the cache administration routes, used as mux route names
const (
	OpInvalidateCache      = "permission_cache.invalidate"
	OpWarmupCache          = "permission_cache.warmup"
	OpCacheStatistics      = "permission_cache.statistics"
	OpEffectivePermissions = "permission_cache.effective"
	OpCheckPermissions     = "permission_cache.check"
)

// RegisterOperations declares the permissions of the cache administration routes
func RegisterOperations(registry *Registry) *Registry {
	registry.RequireForScope(ScopePermissionCache, ManageCachePermission)
	for _, op := range []string{OpInvalidateCache, OpWarmupCache, OpCacheStatistics, OpEffectivePermissions, OpCheckPermissions} {
		registry.RequireForOperation(ScopePermissionCache, op)
	}
	return registry
}

// Handlers provides HTTP handlers for permission cache administration
type Handlers struct {
	checker     *PermissionChecker
	permissions *PermissionMiddleware
	limiter     *middleware.RateLimiter
	logger      *observability.Logger
}

// NewHandlers creates new cache administration handlers. The limiter is optional.
func NewHandlers(checker *PermissionChecker, permissions *PermissionMiddleware, limiter *middleware.RateLimiter, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		checker:     checker,
		permissions: permissions,
		limiter:     limiter,
		logger:      logger,
	}
}

// RegisterRoutes registers the cache administration routes under /rbac
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/rbac").Subrouter()
	if h.limiter != nil {
		r.Use(h.limiter.Handler)
	}
	r.Use(h.permissions.DetectSuperAdmin, h.permissions.RouteGuard)

	// Cache management
	r.HandleFunc("/cache/invalidate", h.InvalidateCache).Methods("POST").Name(OpInvalidateCache)
	r.HandleFunc("/cache/warmup", h.WarmupCache).Methods("POST").Name(OpWarmupCache)
	r.HandleFunc("/cache/statistics", h.GetCacheStatistics).Methods("GET").Name(OpCacheStatistics)

	// Per-user inspection
	r.HandleFunc("/users/{userID}/permissions", h.GetUserPermissions).Methods("GET").Name(OpEffectivePermissions)
	r.HandleFunc("/users/{userID}/permissions/check", h.CheckUserPermissions).Methods("POST").Name(OpCheckPermissions)
}

// InvalidateCache drops cached permission sets
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var criteria InvalidationCriteria
	if !httputil.ParseJSONOrError(w, r, &criteria) {
		return
	}
	if criteria.Reason == "" {
		criteria.Reason = "admin request"
	}

	tenant, err := h.tenantScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tenant != "" {
		if err := h.scopeInvalidation(r, tenant, criteria); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	result, err := h.checker.InvalidateCache(r.Context(), criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// WarmupCache precomputes permission sets
func (h *Handlers) WarmupCache(w http.ResponseWriter, r *http.Request) {
	var criteria WarmupCriteria
	if !httputil.ParseJSONOrError(w, r, &criteria) {
		return
	}

	tenant, err := h.tenantScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tenant != "" {
		if err := h.scopeWarmup(r, tenant, &criteria); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	result, err := h.checker.WarmupCache(r.Context(), criteria)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// GetCacheStatistics reports cache statistics
func (h *Handlers) GetCacheStatistics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.checker.CacheStatistics())
}

// effectivePermissionsResponse wraps a set with its cache provenance
type effectivePermissionsResponse struct {
	*EffectivePermissionSet
	FromCache bool `json:"from_cache"`
}

// GetUserPermissions returns a user's effective permission set
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	forceRefresh, err := httputil.ParseQueryBool(r, "force_refresh", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	companyID := r.URL.Query().Get("company_id")
	if err := h.authorizeTarget(r, userID, companyID); err != nil {
		h.writeError(w, r, err)
		return
	}

	set, fromCache, err := h.checker.EffectivePermissions(r.Context(), userID, companyID, forceRefresh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, effectivePermissionsResponse{EffectivePermissionSet: set, FromCache: fromCache})
}

// checkPermissionsRequest is the body of a per-user check
type checkPermissionsRequest struct {
	Permissions  []string `json:"permissions"`
	CompanyID    string   `json:"company_id,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// CheckUserPermissions checks permissions for a user
func (h *Handlers) CheckUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	var req checkPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.authorizeTarget(r, userID, req.CompanyID); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.checker.CheckBulk(r.Context(), BulkCheckRequest{
		UserID:       userID,
		Permissions:  req.Permissions,
		CompanyID:    req.CompanyID,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// tenantScope returns the caller's company. Super admins get "" and may act on
// every tenant.
func (h *Handlers) tenantScope(r *http.Request) (string, error) {
	if contextkeys.IsSuperAdminBypassed(r.Context()) {
		return "", nil
	}
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		return "", Forbidden("not authenticated")
	}
	return h.checker.UserCompany(r.Context(), principal.UserID)
}

// authorizeTarget keeps per-user inspection inside the caller's tenant
func (h *Handlers) authorizeTarget(r *http.Request, userID, companyID string) error {
	tenant, err := h.tenantScope(r)
	if err != nil || tenant == "" {
		return err
	}
	if companyID != "" && companyID != tenant {
		return errCrossTenant
	}
	return h.sameTenant(r, tenant, userID)
}

func (h *Handlers) sameTenant(r *http.Request, tenant, userID string) error {
	company, err := h.checker.UserCompany(r.Context(), userID)
	if err != nil {
		return err
	}
	if company != tenant {
		return errCrossTenant
	}
	return nil
}

// scopeInvalidation allows tenant admins to drop their own users and company only
func (h *Handlers) scopeInvalidation(r *http.Request, tenant string, criteria InvalidationCriteria) error {
	switch {
	case criteria.All, criteria.RoleID != "", criteria.Permission != "":
		return errCrossTenant
	case criteria.CompanyID != "" && criteria.CompanyID != tenant:
		return errCrossTenant
	case criteria.UserID != "":
		return h.sameTenant(r, tenant, criteria.UserID)
	}
	return nil
}

// scopeWarmup narrows an unscoped warmup to the caller's company
func (h *Handlers) scopeWarmup(r *http.Request, tenant string, criteria *WarmupCriteria) error {
	if criteria.RoleID != "" || (criteria.CompanyID != "" && criteria.CompanyID != tenant) {
		return errCrossTenant
	}
	for _, userID := range criteria.UserIDs {
		if err := h.sameTenant(r, tenant, userID); err != nil {
			return err
		}
	}
	if len(criteria.UserIDs) == 0 {
		criteria.CompanyID = tenant
	}
	return nil
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, SanitizeError(err))
	case errors.Is(err, ErrValidation):
		httputil.WriteBadRequest(w, SanitizeError(err))
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, SanitizeError(err))
	default:
		observability.UpdateLoggerWithTraceContext(r.Context(), h.logger).WithError(err).
			WithField("path", r.URL.Path).
			Warn("permission cache request failed")
		httputil.WriteInternalError(w, genericCheckFailure)
	}
}
