package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/middleware"
)

type handlersFixture struct {
	*checkerFixture
	router *mux.Router
}

func newHandlersFixture(t *testing.T, limiter *middleware.RateLimiter) *handlersFixture {
	t.Helper()
	f := newCheckerFixture(t, DefaultCacheConfig())

	guard := NewAccessGuard(f.checker, RegisterOperations(NewRegistry()), nil, nil)
	permissions := NewPermissionMiddleware(guard, NewSuperAdminDetector(f.checker, nil, nil))

	router := mux.NewRouter()
	router.Use(middleware.NewTrustedHeaderAuth().Handler)
	NewHandlers(f.checker, permissions, limiter, nil).RegisterRoutes(router)

	return &handlersFixture{checkerFixture: f, router: router}
}

func (f *handlersFixture) do(method, path, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
		req.Header.Set(middleware.HeaderCompanyID, companyA)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func TestHandlers_AccessControl(t *testing.T) {
	f := newHandlersFixture(t, nil)

	t.Run("unauthenticated", func(t *testing.T) {
		rec := f.do("GET", "/rbac/cache/statistics", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "not authenticated")
	})

	t.Run("missing permission", func(t *testing.T) {
		rec := f.do("GET", "/rbac/cache/statistics", userU1, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var body struct {
			Error   string   `json:"error"`
			Missing []string `json:"missing"`
		}
		decode(t, rec, &body)
		assert.Equal(t, []string{ManageCachePermission}, body.Missing)
		assert.Contains(t, body.Error, "insufficient permissions")
	})

	t.Run("direct grant", func(t *testing.T) {
		insertGrant(t, f.db, userU3, BuiltInManageCachePermissionID, true, nil)
		rec := f.do("GET", "/rbac/cache/statistics", userU3, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("super admin", func(t *testing.T) {
		rec := f.do("GET", "/rbac/cache/statistics", userU2, "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var stats CacheStatistics
		decode(t, rec, &stats)
		assert.True(t, stats.Enabled)
	})
}

func TestHandlers_EffectivePermissionsAndCheck(t *testing.T) {
	f := newHandlersFixture(t, nil)

	rec := f.do("GET", "/rbac/users/"+userU1+"/permissions", userU2, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var set struct {
		UserID      string `json:"user_id"`
		FromCache   bool   `json:"from_cache"`
		Permissions []struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		} `json:"permissions"`
	}
	decode(t, rec, &set)
	assert.Equal(t, userU1, set.UserID)
	assert.False(t, set.FromCache)
	require.Len(t, set.Permissions, 1)
	assert.Equal(t, "VIEW_PETITION", set.Permissions[0].Name)
	assert.Equal(t, "ROLE", set.Permissions[0].Source)

	rec = f.do("POST", "/rbac/users/"+userU1+"/permissions/check", userU2,
		`{"permissions":["VIEW_PETITION","CREATE_PETITION"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var bulk BulkCheckResult
	decode(t, rec, &bulk)
	assert.Equal(t, 1, bulk.GrantedCount)
	assert.Equal(t, 2, bulk.TotalChecked)
	assert.True(t, bulk.FromCache)

	rec = f.do("GET", "/rbac/users/"+unknownUser+"/permissions", userU2, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do("GET", "/rbac/users/"+userU1+"/permissions?company_id="+companyB, userU2, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("GET", "/rbac/users/"+userU1+"/permissions?force_refresh=maybe", userU2, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_InvalidateAndWarmup(t *testing.T) {
	f := newHandlersFixture(t, nil)

	rec := f.do("POST", "/rbac/cache/warmup", userU2, `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var warm WarmupResult
	decode(t, rec, &warm)
	assert.Equal(t, 4, warm.WarmedCount)
	assert.Equal(t, 4, warm.UsersProcessed)

	rec = f.do("POST", "/rbac/cache/invalidate", userU2, `{"user_id":"`+userU1+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var inv InvalidationResult
	decode(t, rec, &inv)
	assert.Equal(t, 2, inv.InvalidatedCount)
	assert.Equal(t, "admin request", inv.Reason)

	rec = f.do("POST", "/rbac/cache/invalidate", userU2, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("POST", "/rbac/cache/invalidate", userU2, `{"everything":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields rejected")
}

func TestHandlers_TenantAdminStaysInOwnCompany(t *testing.T) {
	f := newHandlersFixture(t, nil)
	insertGrant(t, f.db, userU3, BuiltInManageCachePermissionID, true, nil)

	denied := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"other tenant's permissions", "GET", "/rbac/users/" + userU4 + "/permissions", ""},
		{"own user with other company", "GET", "/rbac/users/" + userU1 + "/permissions?company_id=" + companyB, ""},
		{"check other tenant's user", "POST", "/rbac/users/" + userU4 + "/permissions/check", `{"permissions":["VIEW_REPORTS"]}`},
		{"invalidate other user", "POST", "/rbac/cache/invalidate", `{"user_id":"` + userU4 + `"}`},
		{"invalidate other company", "POST", "/rbac/cache/invalidate", `{"company_id":"` + companyB + `"}`},
		{"invalidate everything", "POST", "/rbac/cache/invalidate", `{"all":true}`},
		{"invalidate by role", "POST", "/rbac/cache/invalidate", `{"role_id":"` + roleReviewer + `"}`},
		{"invalidate by permission", "POST", "/rbac/cache/invalidate", `{"permission":"VIEW_REPORTS"}`},
		{"warm other company", "POST", "/rbac/cache/warmup", `{"company_id":"` + companyB + `"}`},
		{"warm other user", "POST", "/rbac/cache/warmup", `{"user_ids":["` + userU1 + `","` + userU4 + `"]}`},
		{"warm by role", "POST", "/rbac/cache/warmup", `{"role_id":"` + roleReviewer + `"}`},
	}
	for _, tc := range denied {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(tc.method, tc.path, userU3, tc.body)
			assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), "cross-tenant access denied")
		})
	}

	_, ok := f.cache.Get(EffectivePermissionsKey(userU4, ""))
	assert.True(t, ok, "company B entries survive the denied invalidations")

	t.Run("own company", func(t *testing.T) {
		rec := f.do("GET", "/rbac/users/"+userU1+"/permissions", userU3, "")
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = f.do("POST", "/rbac/users/"+userU1+"/permissions/check", userU3, `{"permissions":["VIEW_PETITION"]}`)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = f.do("POST", "/rbac/cache/invalidate", userU3, `{"user_id":"`+userU1+`"}`)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = f.do("POST", "/rbac/cache/invalidate", userU3, `{"company_id":"`+companyA+`"}`)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("unscoped warmup narrows to own company", func(t *testing.T) {
		rec := f.do("POST", "/rbac/cache/warmup", userU3, `{}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var warm WarmupResult
		decode(t, rec, &warm)
		assert.Equal(t, 3, warm.UsersProcessed)
	})

	t.Run("super admin crosses tenants", func(t *testing.T) {
		rec := f.do("GET", "/rbac/users/"+userU4+"/permissions", userU2, "")
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestHandlers_InternalErrorIsGeneric(t *testing.T) {
	f := newHandlersFixture(t, nil)

	// Warm the caller so the guard passes from cache after the store goes away
	rec := f.do("GET", "/rbac/cache/statistics", userU2, "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.db.Close()

	rec = f.do("POST", "/rbac/cache/invalidate", userU2, `{"company_id":"`+companyA+`"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"permission check failed"}`, rec.Body.String())
}

func TestHandlers_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	f := newHandlersFixture(t, limiter)

	rec := f.do("GET", "/rbac/cache/statistics", userU2, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/rbac/cache/statistics", userU2, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
