package rbac

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

func TestSuperAdminDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("detected", func(t *testing.T) {
		d := NewSuperAdminDetector(&stubChecker{superAdmin: true}, nil, nil)
		assert.True(t, d.Detect(ctx, principal(userU2, companyA)))
	})

	t.Run("not detected", func(t *testing.T) {
		d := NewSuperAdminDetector(&stubChecker{}, nil, nil)
		assert.False(t, d.Detect(ctx, principal(userU1, companyA)))
	})

	t.Run("error fails open and logs", func(t *testing.T) {
		logs := &bytes.Buffer{}
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		d := NewSuperAdminDetector(&stubChecker{superAdmin: true, err: errors.New("store unavailable")},
			observability.NewLogger(observability.DebugLevel, logs), metrics)

		assert.False(t, d.Detect(ctx, principal(userU2, companyA)))
		assert.Contains(t, logs.String(), "super admin detection failed")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SuperAdminBypassTotal.WithLabelValues("error")))
	})

	t.Run("invalid principal skipped", func(t *testing.T) {
		checker := &stubChecker{superAdmin: true}
		d := NewSuperAdminDetector(checker, nil, nil)

		assert.False(t, d.Detect(ctx, nil))
		assert.False(t, d.Detect(ctx, principal("nope", companyA)))
		assert.Equal(t, 0, checker.superAdminCalls)
	})
}
