package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	metrics.CacheHitsTotal.WithLabelValues("effective_permissions").Inc()
	metrics.CacheEntries.WithLabelValues("effective_permissions").Set(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("effective_permissions")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.CacheEntries.WithLabelValues("effective_permissions")))

	// Registering twice on the same registry must panic
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_UpdateDBStats(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.UpdateDBStats(sql.DBStats{InUse: 4, Idle: 2, WaitCount: 7, WaitDuration: 1500 * time.Millisecond})

	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.DBConnectionsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DBConnectionsIdle))
	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.DBConnectionsWaitCount))
	assert.InDelta(t, 1.5, testutil.ToFloat64(metrics.DBConnectionsWaitDuration), 0.0001)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/rbac/users/{userID}/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	})

	req := httptest.NewRequest("GET", "/rbac/users/abc/permissions", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/users/{userID}/permissions", "403"))
	assert.Equal(t, float64(1), count)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.AccessDecisionsTotal.WithLabelValues("deny", "insufficient_permissions").Inc()

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "tenantguard_access_decisions_total"))
}
