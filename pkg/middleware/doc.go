// Package middleware provides HTTP middleware for principal attachment and rate limiting.
//
// TrustedHeaderAuth: attaches the principal asserted by the fronting gateway
//
//	router.Use(middleware.NewTrustedHeaderAuth().Handler)
//	// Reads X-Authenticated-User-Id / X-Authenticated-Company-Id into an auth.AuthContext
//
// RateLimiter: per-principal token buckets (golang.org/x/time/rate)
//
//	limiter := middleware.NewRateLimiter(middleware.AdminRateLimitConfig())
//	adminRouter.Use(limiter.Handler)
//
// Authorization is not decided here; see pkg/rbac.PermissionMiddleware.
package middleware
