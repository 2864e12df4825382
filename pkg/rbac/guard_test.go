package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

func principal(userID, companyID string) *auth.Principal {
	return &auth.Principal{UserID: userID, CompanyID: companyID}
}

func TestCheckAccess_EmptyRequirementsAllowWithoutCheck(t *testing.T) {
	checker := &stubChecker{}
	guard := NewAccessGuard(checker, nil, nil, nil)

	d := guard.CheckAccess(context.Background(), nil, nil, false)
	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())
	assert.Equal(t, 0, checker.bulkCalls)
}

func TestCheckAccess_PrincipalValidation(t *testing.T) {
	checker := &stubChecker{}
	guard := NewAccessGuard(checker, nil, nil, nil)
	ctx := context.Background()

	d := guard.CheckAccess(ctx, []string{"A"}, nil, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "not authenticated", d.Reason)
	assert.ErrorIs(t, d.Err(), ErrForbidden)

	d = guard.CheckAccess(ctx, []string{"A"}, principal("u1", companyA), false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "invalid user context", d.Reason)
	assert.ErrorIs(t, d.Err(), ErrForbidden)

	// Bypass does not rescue an invalid principal
	d = guard.CheckAccess(ctx, []string{"A"}, principal("", companyA), true)
	assert.False(t, d.Allowed)

	assert.Equal(t, 0, checker.bulkCalls)
}

func TestCheckAccess_BypassSkipsCheck(t *testing.T) {
	checker := &stubChecker{}
	guard := NewAccessGuard(checker, nil, nil, nil)

	d := guard.CheckAccess(context.Background(), []string{"ANYTHING"}, principal(userU2, companyA), true)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonSuperAdminBypass, d.Code)
	assert.Equal(t, 0, checker.bulkCalls)
}

func TestCheckAccess_AndSemantics(t *testing.T) {
	checker := &stubChecker{granted: map[string]bool{"A": true}}
	guard := NewAccessGuard(checker, nil, nil, nil)

	d := guard.CheckAccess(context.Background(), []string{"A", "B"}, principal(userU1, companyA), false)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"B"}, d.Missing)
	assert.Equal(t, "insufficient permissions: required [A, B], missing [B]", d.Reason)

	assert.Equal(t, userU1, checker.lastRequest.UserID)
	assert.Equal(t, companyA, checker.lastRequest.CompanyID)
}

func TestCheckAccess_DeduplicatesInOrder(t *testing.T) {
	checker := &stubChecker{granted: map[string]bool{"B": true}}
	guard := NewAccessGuard(checker, nil, nil, nil)

	d := guard.CheckAccess(context.Background(), []string{"C", "B", "C", "a", "A"}, principal(userU1, companyA), false)
	assert.Equal(t, []string{"C", "B", "a", "A"}, checker.lastRequest.Permissions)
	assert.Equal(t, []string{"C", "a", "A"}, d.Missing)
	assert.Equal(t, "insufficient permissions: required [C, B, a, A], missing [C, a, A]", d.Reason)
}

func TestCheckAccess_FailsClosed(t *testing.T) {
	checker := &stubChecker{err: errors.New("boom")}
	guard := NewAccessGuard(checker, nil, nil, nil)

	d := guard.CheckAccess(context.Background(), []string{"A"}, principal(userU1, companyA), false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "permission check failed", d.Reason)
	assert.Equal(t, ReasonCheckFailed, d.Code)
	assert.ErrorIs(t, d.Err(), ErrForbidden)
}

func TestCheckAccess_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	checker := &stubChecker{granted: map[string]bool{"A": true}}
	guard := NewAccessGuard(checker, nil, nil, metrics)
	p := principal(userU1, companyA)

	guard.CheckAccess(context.Background(), []string{"A"}, p, false)
	guard.CheckAccess(context.Background(), []string{"B"}, p, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessDecisionsTotal.WithLabelValues("allow", ReasonGranted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AccessDecisionsTotal.WithLabelValues("deny", ReasonInsufficient)))
}

func TestAuthorize_ScopeAndOperation(t *testing.T) {
	registry := NewRegistry().
		RequireForScope("petitions", "VIEW_PETITION").
		RequireForOperation("petitions", "petitions.create", "CREATE_PETITION", "VIEW_PETITION").
		RequireForOperation("petitions", "petitions.list")
	checker := &stubChecker{granted: map[string]bool{"VIEW_PETITION": true}}
	guard := NewAccessGuard(checker, registry, nil, nil)
	p := principal(userU1, companyA)
	ctx := context.Background()

	d := guard.Authorize(ctx, "petitions.create", p, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"VIEW_PETITION", "CREATE_PETITION"}, d.Required)
	assert.Equal(t, []string{"CREATE_PETITION"}, d.Missing)

	d = guard.Authorize(ctx, "petitions.list", p, false)
	assert.True(t, d.Allowed)

	calls := checker.bulkCalls
	d = guard.Authorize(ctx, "unregistered.operation", p, false)
	assert.True(t, d.Allowed, "no declared requirements")
	assert.Equal(t, calls, checker.bulkCalls)
}

// The u1 and u2 scenarios run end to end against the SQL store
func TestAccessScenarios(t *testing.T) {
	f := newCheckerFixture(t, DefaultCacheConfig())
	guard := NewAccessGuard(f.checker, nil, nil, nil)
	ctx := context.Background()

	t.Run("vendor admin missing create", func(t *testing.T) {
		d := guard.CheckAccess(ctx, []string{"VIEW_PETITION", "CREATE_PETITION"}, principal(userU1, companyA), false)
		require.False(t, d.Allowed)
		assert.Equal(t, "insufficient permissions: required [VIEW_PETITION, CREATE_PETITION], missing [CREATE_PETITION]", d.Reason)
		assert.Equal(t, []string{"CREATE_PETITION"}, d.Missing)
	})

	t.Run("super admin with bypass", func(t *testing.T) {
		detector := NewSuperAdminDetector(f.checker, nil, nil)
		bypass := detector.Detect(ctx, principal(userU2, companyA))
		require.True(t, bypass)

		calls := f.store.getUserCalls
		d := guard.CheckAccess(ctx, []string{"ANYTHING"}, principal(userU2, companyA), bypass)
		assert.True(t, d.Allowed)
		assert.Equal(t, calls, f.store.getUserCalls, "check API never invoked")
	})

	t.Run("cross tenant principal denied", func(t *testing.T) {
		d := guard.CheckAccess(ctx, []string{"VIEW_PETITION"}, principal(userU1, companyB), false)
		assert.False(t, d.Allowed)
		assert.Equal(t, "permission check failed", d.Reason)
	})
}
