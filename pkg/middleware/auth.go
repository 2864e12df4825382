package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
)

const (
	// HeaderUserID carries the authenticated user id set by the fronting gateway
	HeaderUserID = "X-Authenticated-User-Id"
	// HeaderCompanyID carries the authenticated user's company id
	HeaderCompanyID = "X-Authenticated-Company-Id"
	// HeaderEmail carries the authenticated user's email, informational only
	HeaderEmail = "X-Authenticated-Email"
)

// TrustedHeaderAuth attaches the principal asserted by an upstream gateway.
// The gateway is responsible for verifying identity and stripping these headers
// from client traffic. Requests without the user header pass through without an
// auth context, and guarded routes reject them.
type TrustedHeaderAuth struct {
	now func() time.Time
}

// NewTrustedHeaderAuth creates the header-based principal middleware
func NewTrustedHeaderAuth() *TrustedHeaderAuth {
	return &TrustedHeaderAuth{now: time.Now}
}

// Handler wraps an HTTP handler with principal attachment
func (m *TrustedHeaderAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		authCtx := &auth.AuthContext{
			Principal: &auth.Principal{
				UserID:    userID,
				CompanyID: strings.TrimSpace(r.Header.Get(HeaderCompanyID)),
				Email:     r.Header.Get(HeaderEmail),
			},
			Source:          "trusted-header",
			AuthenticatedAt: m.now(),
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	ctx := r.Context().Value(contextkeys.AuthKey)
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// GetPrincipal returns the principal attached to the request, if any
func GetPrincipal(r *http.Request) *auth.Principal {
	authCtx := GetAuthContext(r)
	if authCtx == nil {
		return nil
	}
	return authCtx.Principal
}
