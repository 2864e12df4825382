package rbac

import (
	"sort"
	"time"
)

// PermissionSource records where an effective permission came from
type PermissionSource string

const (
	SourceRole   PermissionSource = "ROLE"
	SourceDirect PermissionSource = "DIRECT"
	SourceSystem PermissionSource = "SYSTEM"
)

const (
	// SuperAdminRoleCode is the reserved role name/code granting every permission
	SuperAdminRoleCode = "super_admin"
	// SuperAdminRoleName labels permissions granted through the super-admin shortcut
	SuperAdminRoleName = "Super Admin"
)

// Role represents a role a user may hold within a company
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// IsSuperAdmin reports whether the role is the reserved super-admin role
func (r *Role) IsSuperAdmin() bool {
	if r == nil {
		return false
	}
	return r.Name == SuperAdminRoleCode || r.Code == SuperAdminRoleCode
}

// Permission is a named capability. Names are case-sensitive tokens such as CREATE_PETITION.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// User is the principal as known to the permission store
type User struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Email     string `json:"email,omitempty"`
	Role      *Role  `json:"role,omitempty"`
}

// DirectGrant is a permission granted to a user outside of their role
type DirectGrant struct {
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
	Granted    bool       `json:"granted"`
	GrantedBy  string     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the grant applies at the given instant.
// Grants without an explicit expiry never lapse.
func (g DirectGrant) ActiveAt(now time.Time) bool {
	if !g.Granted {
		return false
	}
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// EffectivePermission is one entry of a user's computed permission set
type EffectivePermission struct {
	Name           string           `json:"name"`
	Category       string           `json:"category"`
	Source         PermissionSource `json:"source"`
	SourceRoleName string           `json:"source_role_name,omitempty"`
	IsActive       bool             `json:"is_active"`
	GrantedAt      *time.Time       `json:"granted_at,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
}

// EffectivePermissionSet is the merged, authoritative permission set of a user
type EffectivePermissionSet struct {
	UserID       string                `json:"user_id"`
	CompanyID    string                `json:"company_id"`
	IsSuperAdmin bool                  `json:"is_super_admin"`
	ComputedAt   time.Time             `json:"computed_at"`
	Permissions  []EffectivePermission `json:"permissions"`

	index map[string]int
}

// newEffectivePermissionSet sorts the permissions by category then name and indexes them
func newEffectivePermissionSet(user *User, superAdmin bool, computedAt time.Time, perms []EffectivePermission) *EffectivePermissionSet {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Category != perms[j].Category {
			return perms[i].Category < perms[j].Category
		}
		return perms[i].Name < perms[j].Name
	})

	set := &EffectivePermissionSet{
		UserID:       user.ID,
		CompanyID:    user.CompanyID,
		IsSuperAdmin: superAdmin,
		ComputedAt:   computedAt,
		Permissions:  perms,
		index:        make(map[string]int, len(perms)),
	}
	for i, p := range perms {
		set.index[p.Name] = i
	}
	return set
}

// Lookup returns the entry for a permission name
func (s *EffectivePermissionSet) Lookup(name string) (EffectivePermission, bool) {
	if s == nil {
		return EffectivePermission{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return EffectivePermission{}, false
	}
	return s.Permissions[i], true
}

// Has reports whether the permission is present and active
func (s *EffectivePermissionSet) Has(name string) bool {
	p, ok := s.Lookup(name)
	return ok && p.IsActive
}

// NextExpiry returns the earliest expiry among active permissions, or nil when none expire
func (s *EffectivePermissionSet) NextExpiry() *time.Time {
	if s == nil {
		return nil
	}
	var next *time.Time
	for _, p := range s.Permissions {
		if !p.IsActive || p.ExpiresAt == nil {
			continue
		}
		if next == nil || p.ExpiresAt.Before(*next) {
			next = p.ExpiresAt
		}
	}
	return next
}

// Names returns the permission names in set order
func (s *EffectivePermissionSet) Names() []string {
	names := make([]string, len(s.Permissions))
	for i, p := range s.Permissions {
		names[i] = p.Name
	}
	return names
}

// CheckRequest asks whether a user holds a single permission
type CheckRequest struct {
	UserID       string `json:"user_id"`
	Permission   string `json:"permission"`
	CompanyID    string `json:"company_id,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// CheckResult is the outcome for one permission name
type CheckResult struct {
	Permission     string           `json:"permission"`
	Granted        bool             `json:"granted"`
	Source         PermissionSource `json:"source,omitempty"`
	SourceRoleName string           `json:"source_role_name,omitempty"`
	FromCache      bool             `json:"from_cache"`
}

// BulkCheckRequest asks about several permissions against one snapshot
type BulkCheckRequest struct {
	UserID       string   `json:"user_id"`
	Permissions  []string `json:"permissions"`
	CompanyID    string   `json:"company_id,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// BulkCheckResult holds one result per requested name, in request order
type BulkCheckResult struct {
	UserID       string        `json:"user_id"`
	Results      []CheckResult `json:"results"`
	GrantedCount int           `json:"granted_count"`
	TotalChecked int           `json:"total_checked"`
	FromCache    bool          `json:"from_cache"`
}

// AllGranted reports whether every requested permission was granted
func (r *BulkCheckResult) AllGranted() bool {
	return r.GrantedCount == r.TotalChecked
}

// InvalidationCriteria selects cache entries to drop. Exactly one selector must be set;
// Reason is informational.
type InvalidationCriteria struct {
	UserID     string `json:"user_id,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	RoleID     string `json:"role_id,omitempty"`
	Permission string `json:"permission,omitempty"`
	All        bool   `json:"all,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// selectors counts how many selectors are set
func (c InvalidationCriteria) selectors() int {
	n := 0
	for _, set := range []bool{c.UserID != "", c.CompanyID != "", c.RoleID != "", c.Permission != "", c.All} {
		if set {
			n++
		}
	}
	return n
}

// criterion names the selected criterion for logs and metrics
func (c InvalidationCriteria) criterion() string {
	switch {
	case c.All:
		return "all"
	case c.UserID != "":
		return "user"
	case c.CompanyID != "":
		return "company"
	case c.RoleID != "":
		return "role"
	case c.Permission != "":
		return "permission"
	default:
		return "none"
	}
}

// InvalidationResult reports what an invalidation removed
type InvalidationResult struct {
	InvalidatedCount int      `json:"invalidated_count"`
	InvalidatedKeys  []string `json:"invalidated_keys"`
	Reason           string   `json:"reason,omitempty"`
}

// WarmupCriteria selects users whose permission sets are precomputed.
// With nothing set, every user is warmed, up to Limit when positive.
type WarmupCriteria struct {
	UserIDs   []string `json:"user_ids,omitempty"`
	CompanyID string   `json:"company_id,omitempty"`
	RoleID    string   `json:"role_id,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// WarmupResult reports the outcome of a cache warmup
type WarmupResult struct {
	WarmedCount    int      `json:"warmed_count"`
	UsersProcessed int      `json:"users_processed"`
	DurationMs     int64    `json:"duration_ms"`
	Errors         []string `json:"errors"`
}
