package rbac

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Decision reasons, also used as metric labels
const (
	ReasonNoRequirements   = "no_requirements"
	ReasonSuperAdminBypass = "super_admin_bypass"
	ReasonGranted          = "granted"
	ReasonNotAuthenticated = "not_authenticated"
	ReasonInvalidPrincipal = "invalid_principal"
	ReasonInsufficient     = "insufficient_permissions"
	ReasonCheckFailed      = "check_failed"
)

// Decision is the outcome of an access check
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Required []string `json:"required,omitempty"`
	Missing  []string `json:"missing,omitempty"`

	// Code is the machine-readable reason
	Code string `json:"-"`
}

// Err returns nil for an allow and a forbidden error carrying the reason for a deny
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return Forbidden(d.Reason)
}

// AccessGuard decides whether a principal may perform an operation
type AccessGuard struct {
	checker  Checker
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAccessGuard creates a new access guard
func NewAccessGuard(checker Checker, registry *Registry, logger *observability.Logger, metrics *observability.Metrics) *AccessGuard {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &AccessGuard{
		checker:  checker,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Registry returns the operation registry the guard resolves against
func (g *AccessGuard) Registry() *Registry {
	return g.registry
}

// Authorize checks the permissions declared for an operation's scope and the
// operation itself. An operation with no declarations is allowed.
func (g *AccessGuard) Authorize(ctx context.Context, operation string, principal *auth.Principal, bypass bool) Decision {
	return g.CheckAccess(ctx, g.registry.Required(operation), principal, bypass)
}

// CheckAccess requires every permission in required (AND). Errors deny.
func (g *AccessGuard) CheckAccess(ctx context.Context, required []string, principal *auth.Principal, bypass bool) Decision {
	ctx, span := observability.Tracer().Start(ctx, "rbac.CheckAccess")
	defer span.End()

	if len(required) == 0 {
		return g.record(ctx, Decision{Allowed: true, Code: ReasonNoRequirements})
	}

	if principal == nil {
		return g.record(ctx, Decision{Reason: "not authenticated", Code: ReasonNotAuthenticated})
	}
	if !principal.HasValidID() {
		return g.record(ctx, Decision{Reason: "invalid user context", Code: ReasonInvalidPrincipal})
	}
	span.SetAttributes(attribute.String("user.id", principal.UserID))

	if bypass {
		return g.record(ctx, Decision{Allowed: true, Code: ReasonSuperAdminBypass})
	}

	required = dedupe(required)

	result, err := g.checker.CheckBulk(ctx, BulkCheckRequest{
		UserID:      principal.UserID,
		Permissions: required,
		CompanyID:   principal.CompanyID,
	})
	if err != nil {
		observability.UpdateLoggerWithTraceContext(ctx, g.logger).WithError(err).
			WithField("user_id", principal.UserID).
			Warn("permission check failed, denying access")
		return g.record(ctx, Decision{
			Reason:   genericCheckFailure,
			Required: required,
			Code:     ReasonCheckFailed,
		})
	}

	var missing []string
	for _, r := range result.Results {
		if !r.Granted {
			missing = append(missing, r.Permission)
		}
	}

	if len(missing) == 0 {
		return g.record(ctx, Decision{Allowed: true, Required: required, Code: ReasonGranted})
	}

	return g.record(ctx, Decision{
		Reason: fmt.Sprintf("insufficient permissions: required [%s], missing [%s]",
			strings.Join(required, ", "), strings.Join(missing, ", ")),
		Required: required,
		Missing:  missing,
		Code:     ReasonInsufficient,
	})
}

func (g *AccessGuard) record(ctx context.Context, d Decision) Decision {
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}

	if g.metrics != nil {
		g.metrics.AccessDecisionsTotal.WithLabelValues(outcome, d.Code).Inc()
	}
	if !d.Allowed {
		observability.UpdateLoggerWithTraceContext(ctx, g.logger).WithFields(map[string]interface{}{
			"reason":  d.Code,
			"missing": d.Missing,
		}).Debug("access denied")
	}
	return d
}

// dedupe drops repeated names, keeping first occurrences in order
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
