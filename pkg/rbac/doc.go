// Package rbac evaluates and caches permissions for a multi-tenant backend of
// companies, users and roles.
//
// # Overview
//
// The package answers one question: given an authenticated user and a set of
// required permissions, is access granted? It combines the permissions of the
// user's role with permissions granted directly to the user, honours the
// super-admin role, and caches computed permission sets in memory.
//
// # Architecture
//
// Requests flow through five components:
//
//  1. Store: reads users, roles, the permission catalog and direct grants (SQLStore)
//  2. Calculator: merges role and direct permissions into an EffectivePermissionSet
//  3. PermissionCache: TTL cache of effective sets keyed by (kind, user, company)
//  4. PermissionChecker: serves checks through the cache, invalidation and warmup
//  5. AccessGuard: turns a required permission list into an allow/deny Decision
//
// # Effective Permissions
//
// A user holds at most one role. Role permissions are tagged with source ROLE and
// the role's name. Direct grants with granted = true are tagged DIRECT and replace
// the role entry for the same name. A direct grant whose expires_at has passed is
// ignored; grants without an expiry never lapse.
//
// Users whose role name or code is "super_admin" hold the whole catalog:
//
//	set, err := calculator.ComputeEffectivePermissions(ctx, userID, companyID)
//	// set.IsSuperAdmin == true
//	// every entry: Source=ROLE, SourceRoleName="Super Admin", IsActive=true
//
// Passing a company id that is not the user's own company is a validation error.
//
// # Checking Permissions
//
//	result, err := checker.CheckBulk(ctx, rbac.BulkCheckRequest{
//		UserID:      userID,
//		Permissions: []string{"CREATE_PETITION", "VIEW_REPORTS"},
//		CompanyID:   companyID,
//	})
//	// result.GrantedCount, result.TotalChecked, result.FromCache
//
// Every name in a bulk check is answered from the same snapshot. ForceRefresh skips
// the cache read and stores the recomputed set.
//
// Not found, validation and forbidden errors pass through to the caller. Any other
// failure is logged and replaced by an ErrInternal error whose message is
// "permission check failed".
//
// # Access Decisions
//
//	decision := guard.CheckAccess(ctx, []string{"CREATE_PETITION"}, principal, bypass)
//	if err := decision.Err(); err != nil {
//		return err // errors.Is(err, rbac.ErrForbidden)
//	}
//
// Required permissions are combined with AND semantics. The guard denies on any
// check error. Operations may also be declared in a Registry and authorized by id:
//
//	registry := rbac.NewRegistry().
//		RequireForScope("petitions", "VIEW_PETITIONS").
//		RequireForOperation("petitions", "petitions.create", "CREATE_PETITION")
//
//	decision := guard.Authorize(ctx, "petitions.create", principal, bypass)
//
// Registries can be loaded from YAML and reloaded when the file changes:
//
//	scopes:
//	  petitions: [VIEW_PETITIONS]
//	operations:
//	  petitions.create:
//	    scope: petitions
//	    permissions: [CREATE_PETITION]
//
// # Cache Invalidation
//
// Invalidation takes exactly one criterion: a user, a company, a role, a permission
// name, or everything. Company, role and permission criteria resolve the affected
// users through the Store. In-flight checks may still return a just-invalidated set;
// staleness is bounded by the TTL.
//
// # HTTP Integration
//
// PermissionMiddleware guards gorilla/mux routes. RouteGuard uses the route name as
// the operation id, and DetectSuperAdmin lets confirmed super admins skip checks:
//
//	r.Use(permissions.DetectSuperAdmin, permissions.RouteGuard)
//	r.HandleFunc("/petitions", h.Create).Methods("POST").Name("petitions.create")
//
// Routes whose name has no registered requirements pass. Requests without a principal
// get 401 and other denials 403, with the required and missing permissions in the body.
//
// Handlers exposes cache administration under /rbac, all requiring
// MANAGE_PERMISSION_CACHE. Callers other than super admins only reach users and
// caches of their own company.
package rbac
