package rbac

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Calculator merges role-derived and direct permissions into a user's effective set
type Calculator struct {
	store Store
	now   func() time.Time
}

// NewCalculator creates a new calculator. A nil clock uses time.Now.
func NewCalculator(store Store, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{store: store, now: now}
}

// ComputeEffectivePermissions builds the effective permission set of a user.
// An empty companyID means the caller supplied no company context; a non-empty one
// must match the user's own company.
func (c *Calculator) ComputeEffectivePermissions(ctx context.Context, userID, companyID string) (*EffectivePermissionSet, error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.ComputeEffectivePermissions")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	set, err := c.compute(ctx, userID, companyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute effective permissions")
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("rbac.super_admin", set.IsSuperAdmin),
		attribute.Int("rbac.permissions", len(set.Permissions)),
	)
	return set, nil
}

func (c *Calculator) compute(ctx context.Context, userID, companyID string) (*EffectivePermissionSet, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if companyID != "" && companyID != user.CompanyID {
		return nil, Validationf("user %s does not belong to company %s", userID, companyID)
	}

	now := c.now()

	if user.Role.IsSuperAdmin() {
		catalog, err := c.store.ListPermissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load permission catalog: %w", err)
		}

		perms := make([]EffectivePermission, 0, len(catalog))
		for _, p := range catalog {
			perms = append(perms, EffectivePermission{
				Name:           p.Name,
				Category:       p.Category,
				Source:         SourceRole,
				SourceRoleName: SuperAdminRoleName,
				IsActive:       true,
			})
		}
		return newEffectivePermissionSet(user, true, now, perms), nil
	}

	var rolePerms []Permission
	var grants []DirectGrant

	g, gctx := errgroup.WithContext(ctx)
	if user.Role != nil {
		g.Go(func() error {
			perms, err := c.store.GetRolePermissions(gctx, user.Role.ID)
			if err != nil {
				return fmt.Errorf("failed to load role permissions: %w", err)
			}
			rolePerms = perms
			return nil
		})
	}
	g.Go(func() error {
		dg, err := c.store.GetDirectGrants(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to load direct grants: %w", err)
		}
		grants = dg
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]EffectivePermission, len(rolePerms)+len(grants))
	for _, p := range rolePerms {
		merged[p.Name] = EffectivePermission{
			Name:           p.Name,
			Category:       p.Category,
			Source:         SourceRole,
			SourceRoleName: user.Role.Name,
			IsActive:       true,
		}
	}

	// Direct grants win over the role on the same name
	for _, dg := range grants {
		if !dg.ActiveAt(now) {
			continue
		}
		grantedAt := dg.GrantedAt
		merged[dg.Permission.Name] = EffectivePermission{
			Name:      dg.Permission.Name,
			Category:  dg.Permission.Category,
			Source:    SourceDirect,
			IsActive:  true,
			GrantedAt: &grantedAt,
			ExpiresAt: dg.ExpiresAt,
		}
	}

	perms := make([]EffectivePermission, 0, len(merged))
	for _, p := range merged {
		perms = append(perms, p)
	}
	return newEffectivePermissionSet(user, false, now, perms), nil
}

// IsSuperAdmin reports whether the user holds the super-admin role
func (c *Calculator) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Role.IsSuperAdmin(), nil
}
