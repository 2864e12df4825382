// Package auth defines the authenticated principal consumed by the permission engine.
//
// Authentication itself (token verification, sessions, SSO) happens upstream. By the
// time a request reaches tenantguard, a Principal carrying the user and company
// identifiers has been attached to the request context:
//
//	authCtx := &auth.AuthContext{
//		Principal: &auth.Principal{UserID: userID, CompanyID: companyID},
//	}
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//
// User identifiers are UUIDs. Principal.HasValidID is the single place that decides
// whether an attached identifier is well formed.
package auth
