package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/middleware"
)

func newTestManager(t *testing.T, config Config) *Manager {
	t.Helper()
	db := setupTestDB(t)
	seedFixtures(t, db)

	m, err := NewManager(db, config, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func TestManager_WiresRoutes(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	router := mux.NewRouter()
	router.Use(middleware.NewTrustedHeaderAuth().Handler)
	m.RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/rbac/cache/statistics", nil)
	req.Header.Set(middleware.HeaderUserID, userU2)
	req.Header.Set(middleware.HeaderCompanyID, companyA)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/rbac/cache/statistics", nil)
	req.Header.Set(middleware.HeaderUserID, userU1)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NotNil(t, m.RateLimiter())
	assert.Equal(t, 2, m.RateLimiter().Len(), "one bucket per caller")
}

func TestManager_NoLimiterWhenDisabled(t *testing.T) {
	config := DefaultConfig()
	config.AdminRateLimit = nil
	m := newTestManager(t, config)
	assert.Nil(t, m.RateLimiter())
}

func TestManager_RegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(petitionRegistryYAML), 0o600))

	config := DefaultConfig()
	config.RegistryFile = path
	config.RegistryWatch = true
	m := newTestManager(t, config)

	assert.Equal(t, []string{"VIEW_PETITION", "APPROVE_PETITION"}, m.Registry().Required("petitions.approve"))
	assert.Equal(t, []string{ManageCachePermission}, m.Registry().Required(OpWarmupCache))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = m.Stop(stopCtx)
	})

	d := m.Guard().Authorize(ctx, "petitions.approve", principal(userU1, companyA), false)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"APPROVE_PETITION"}, d.Missing)
}

func TestManager_RegistryFileErrors(t *testing.T) {
	db := setupTestDB(t)

	config := DefaultConfig()
	config.RegistryFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewManager(db, config, nil, nil)
	assert.Error(t, err)
}

func TestManager_StartRejectsBadSchedule(t *testing.T) {
	config := DefaultConfig()
	config.WarmupSchedule = "whenever"
	m := newTestManager(t, config)

	assert.Error(t, m.Start(context.Background()))
}

func TestManager_InvalidateAsync(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.Checker().Check(ctx, CheckRequest{UserID: userU1, Permission: "VIEW_PETITION"})
	require.NoError(t, err)
	require.Equal(t, 1, m.Cache().Len())

	m.InvalidateAsync(ctx, InvalidationCriteria{UserID: userU1, Reason: "role changed"})
	cancel()

	require.Eventually(t, func() bool {
		return m.Cache().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
