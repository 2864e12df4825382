// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/platinummonkey/tenantguard/pkg/contextkeys"
//   ctx = contextkeys.WithAuth(ctx, authCtx)
//   authCtx := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.TrustedHeaderAuth (pkg/middleware/auth.go)
	// Required by: RBAC middleware and every guarded route
	// Type: *auth.AuthContext
	AuthKey Key = "auth_context"

	// SuperAdminBypassKey marks a request whose principal was confirmed as super admin
	// Set by: rbac.PermissionMiddleware.DetectSuperAdmin (pkg/rbac/middleware.go)
	// Used by: rbac.PermissionMiddleware guards, which skip the permission check
	// Type: bool
	SuperAdminBypassKey Key = "super_admin_bypass"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: Auth middleware once a principal is attached
	// Used by: Logger, user-scoped operations
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithSuperAdminBypass marks the request as bypassing permission checks
func WithSuperAdminBypass(ctx context.Context, bypass bool) context.Context {
	return context.WithValue(ctx, SuperAdminBypassKey, bypass)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// IsSuperAdminBypassed reports whether an upstream step marked the request as super admin
func IsSuperAdminBypassed(ctx context.Context) bool {
	bypass, ok := ctx.Value(SuperAdminBypassKey).(bool)
	return ok && bypass
}
