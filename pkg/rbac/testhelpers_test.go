package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// Fixture identifiers
const (
	companyA = "11111111-1111-4111-8111-111111111111"
	companyB = "22222222-2222-4222-8222-222222222222"

	roleVendorAdmin = "33333333-3333-4333-8333-333333333301"
	roleReviewer    = "33333333-3333-4333-8333-333333333302"

	permViewPetition    = "44444444-4444-4444-8444-444444444401"
	permCreatePetition  = "44444444-4444-4444-8444-444444444402"
	permApprovePetition = "44444444-4444-4444-8444-444444444403"
	permViewReports     = "44444444-4444-4444-8444-444444444404"

	// u1 is a vendor admin, u2 a super admin, u3 has no role and only direct grants,
	// u4 is a reviewer in another company
	userU1 = "55555555-5555-4555-8555-555555555501"
	userU2 = "55555555-5555-4555-8555-555555555502"
	userU3 = "55555555-5555-4555-8555-555555555503"
	userU4 = "55555555-5555-4555-8555-555555555504"

	unknownUser = "55555555-5555-4555-8555-5555555555ff"
)

// setupTestDB opens a migrated in-memory SQLite database
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = RunMigrations(context.Background(), db)
	require.NoError(t, err)
	return db
}

// seedFixtures loads the companies, roles, permissions and users shared by the tests
func seedFixtures(t *testing.T, db *sql.DB) {
	t.Helper()

	exec(t, db, `INSERT INTO companies (id, name) VALUES ($1, $2)`, companyA, "Acme")
	exec(t, db, `INSERT INTO companies (id, name) VALUES ($1, $2)`, companyB, "Globex")

	exec(t, db, `INSERT INTO roles (id, name, code) VALUES ($1, $2, $3)`, roleVendorAdmin, "Vendor Admin", "vendor_admin")
	exec(t, db, `INSERT INTO roles (id, name, code) VALUES ($1, $2, $3)`, roleReviewer, "Reviewer", "reviewer")

	insertPermission(t, db, permViewPetition, "VIEW_PETITION", "petitions")
	insertPermission(t, db, permCreatePetition, "CREATE_PETITION", "petitions")
	insertPermission(t, db, permApprovePetition, "APPROVE_PETITION", "petitions")
	insertPermission(t, db, permViewReports, "VIEW_REPORTS", "reports")

	exec(t, db, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleVendorAdmin, permViewPetition)
	exec(t, db, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleReviewer, permViewReports)

	insertUser(t, db, userU1, companyA, roleVendorAdmin)
	insertUser(t, db, userU2, companyA, BuiltInSuperAdminRoleID)
	insertUser(t, db, userU3, companyA, "")
	insertUser(t, db, userU4, companyB, roleReviewer)
}

func exec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

func insertPermission(t *testing.T, db *sql.DB, id, name, category string) {
	t.Helper()
	exec(t, db, `INSERT INTO permissions (id, name, category) VALUES ($1, $2, $3)`, id, name, category)
}

func insertUser(t *testing.T, db *sql.DB, id, companyID, roleID string) {
	t.Helper()
	var role interface{}
	if roleID != "" {
		role = roleID
	}
	exec(t, db, `INSERT INTO users (id, company_id, email, role_id) VALUES ($1, $2, $3, $4)`,
		id, companyID, id[:8]+"@example.com", role)
}

func insertGrant(t *testing.T, db *sql.DB, userID, permissionID string, granted bool, expiresAt *time.Time) {
	t.Helper()
	var expires interface{}
	if expiresAt != nil {
		expires = *expiresAt
	}
	exec(t, db, `INSERT INTO user_permissions (user_id, permission_id, granted, granted_by, granted_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, permissionID, granted, userU2, time.Now().UTC().Add(-time.Hour), expires)
}

// fakeClock is a settable clock for expiry tests
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// countingStore wraps a Store and counts user lookups
type countingStore struct {
	Store
	getUserCalls int
}

func (s *countingStore) GetUser(ctx context.Context, userID string) (*User, error) {
	s.getUserCalls++
	return s.Store.GetUser(ctx, userID)
}

// stubChecker is a Checker with canned answers that records its calls
type stubChecker struct {
	granted    map[string]bool
	superAdmin bool
	err        error

	bulkCalls       int
	superAdminCalls int
	lastRequest     BulkCheckRequest
}

func (s *stubChecker) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	res, err := s.CheckBulk(ctx, BulkCheckRequest{UserID: req.UserID, Permissions: []string{req.Permission}, CompanyID: req.CompanyID})
	if err != nil {
		return nil, err
	}
	return &res.Results[0], nil
}

func (s *stubChecker) CheckBulk(ctx context.Context, req BulkCheckRequest) (*BulkCheckResult, error) {
	s.bulkCalls++
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}

	res := &BulkCheckResult{UserID: req.UserID, TotalChecked: len(req.Permissions)}
	for _, p := range req.Permissions {
		r := CheckResult{Permission: p, Granted: s.granted[p]}
		if r.Granted {
			r.Source = SourceRole
			res.GrantedCount++
		}
		res.Results = append(res.Results, r)
	}
	return res, nil
}

func (s *stubChecker) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	s.superAdminCalls++
	if s.err != nil {
		return false, s.err
	}
	return s.superAdmin, nil
}
