package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
)

// PermissionMiddleware enforces access decisions on HTTP routes
type PermissionMiddleware struct {
	guard    *AccessGuard
	detector *SuperAdminDetector
}

// NewPermissionMiddleware creates a new permission middleware. A nil detector disables
// the super-admin shortcut.
func NewPermissionMiddleware(guard *AccessGuard, detector *SuperAdminDetector) *PermissionMiddleware {
	return &PermissionMiddleware{
		guard:    guard,
		detector: detector,
	}
}

// DetectSuperAdmin marks requests from confirmed super admins so later guards skip
// their checks. Detection errors leave the request unmarked.
func (pm *PermissionMiddleware) DetectSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := middleware.GetPrincipal(r)
		if pm.detector == nil || principal == nil {
			next.ServeHTTP(w, r)
			return
		}

		bypass := pm.detector.Detect(r.Context(), principal)
		ctx := contextkeys.WithSuperAdminBypass(r.Context(), bypass)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperation guards a handler with the permissions registered for an operation
func (pm *PermissionMiddleware) RequireOperation(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := pm.guard.Authorize(r.Context(), operation, middleware.GetPrincipal(r), contextkeys.IsSuperAdminBypassed(r.Context()))
			pm.enforce(w, r, next, decision)
		})
	}
}

// RequirePermissions guards a handler with an explicit permission list
func (pm *PermissionMiddleware) RequirePermissions(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := pm.guard.CheckAccess(r.Context(), permissions, middleware.GetPrincipal(r), contextkeys.IsSuperAdminBypassed(r.Context()))
			pm.enforce(w, r, next, decision)
		})
	}
}

// RouteGuard is router middleware that uses the matched route's name as the
// operation id
func (pm *PermissionMiddleware) RouteGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operation := ""
		if route := mux.CurrentRoute(r); route != nil {
			operation = route.GetName()
		}

		decision := pm.guard.Authorize(r.Context(), operation, middleware.GetPrincipal(r), contextkeys.IsSuperAdminBypassed(r.Context()))
		pm.enforce(w, r, next, decision)
	})
}

func (pm *PermissionMiddleware) enforce(w http.ResponseWriter, r *http.Request, next http.Handler, decision Decision) {
	if decision.Allowed {
		next.ServeHTTP(w, r)
		return
	}

	status := http.StatusForbidden
	if decision.Code == ReasonNotAuthenticated {
		status = http.StatusUnauthorized
	}

	httputil.WriteErrorResponse(w, status, httputil.ErrorResponse{
		Error:    decision.Reason,
		Required: decision.Required,
		Missing:  decision.Missing,
	})
}
