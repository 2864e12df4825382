package rbac

import (
	"context"

	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// SuperAdminDetector is the optional pre-check that lets super admins skip
// per-permission checks. It fails open: any error means "not detected", never deny.
type SuperAdminDetector struct {
	checker Checker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSuperAdminDetector creates a new detector
func NewSuperAdminDetector(checker Checker, logger *observability.Logger, metrics *observability.Metrics) *SuperAdminDetector {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SuperAdminDetector{checker: checker, logger: logger, metrics: metrics}
}

// Detect reports whether the principal is a confirmed super admin
func (d *SuperAdminDetector) Detect(ctx context.Context, principal *auth.Principal) bool {
	if !principal.HasValidID() {
		d.record("skipped")
		return false
	}

	ok, err := d.checker.IsSuperAdmin(ctx, principal.UserID)
	if err != nil {
		observability.UpdateLoggerWithTraceContext(ctx, d.logger).WithError(err).
			WithField("user_id", principal.UserID).
			Warn("super admin detection failed, continuing with regular checks")
		d.record("error")
		return false
	}

	if ok {
		d.record("detected")
	} else {
		d.record("not_detected")
	}
	return ok
}

func (d *SuperAdminDetector) record(outcome string) {
	if d.metrics != nil {
		d.metrics.SuperAdminBypassTotal.WithLabelValues(outcome).Inc()
	}
}
