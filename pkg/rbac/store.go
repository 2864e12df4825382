package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store reads the identity, role and permission data the engine evaluates
type Store interface {
	// GetUser returns the user with its role joined in, or ErrNotFound
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetRolePermissions returns the permissions linked to a role
	GetRolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	// GetDirectGrants returns the user's direct grants with granted = true
	GetDirectGrants(ctx context.Context, userID string) ([]DirectGrant, error)

	// ListPermissions returns the full permission catalog
	ListPermissions(ctx context.Context) ([]Permission, error)

	// ListUserIDsByCompany returns the ids of every user of a company
	ListUserIDsByCompany(ctx context.Context, companyID string) ([]string, error)

	// ListUserIDsByRole returns the ids of every user holding a role
	ListUserIDsByRole(ctx context.Context, roleID string) ([]string, error)

	// ListUserIDsByPermission returns the ids of every user that may hold a permission,
	// through their role, a direct grant, or the super-admin role
	ListUserIDsByPermission(ctx context.Context, permission string) ([]string, error)

	// ListUserIDs returns user ids ordered by id; limit <= 0 returns all of them
	ListUserIDs(ctx context.Context, limit int) ([]string, error)
}

// SQLStore implements Store on database/sql. Queries use $n placeholders.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB returns the underlying database handle
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// GetUser retrieves a user and its role
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT u.id, u.company_id, u.email, r.id, r.name, r.code, r.description
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1
	`

	var user User
	var roleID, roleName, roleCode, roleDescription sql.NullString

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.CompanyID,
		&user.Email,
		&roleID,
		&roleName,
		&roleCode,
		&roleDescription,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFoundf("user not found: %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if roleID.Valid {
		user.Role = &Role{
			ID:          roleID.String,
			Name:        roleName.String,
			Code:        roleCode.String,
			Description: roleDescription.String,
		}
	}

	return &user, nil
}

// GetRolePermissions retrieves the permissions granted by a role
func (s *SQLStore) GetRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.category, p.description
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.category, p.name
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	perms, err := scanPermissions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan role permissions: %w", err)
	}
	return perms, nil
}

// GetDirectGrants retrieves the active-flagged direct grants of a user
func (s *SQLStore) GetDirectGrants(ctx context.Context, userID string) ([]DirectGrant, error) {
	query := `
		SELECT up.user_id, p.id, p.name, p.category, p.description,
		       up.granted, COALESCE(up.granted_by, ''), up.granted_at, up.expires_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND up.granted = $2
		ORDER BY p.category, p.name
	`

	rows, err := s.db.QueryContext(ctx, query, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct grants: %w", err)
	}
	defer rows.Close()

	var grants []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var expiresAt sql.NullTime

		if err := rows.Scan(
			&g.UserID,
			&g.Permission.ID,
			&g.Permission.Name,
			&g.Permission.Category,
			&g.Permission.Description,
			&g.Granted,
			&g.GrantedBy,
			&g.GrantedAt,
			&expiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan direct grant: %w", err)
		}

		if expiresAt.Valid {
			t := expiresAt.Time
			g.ExpiresAt = &t
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate direct grants: %w", err)
	}
	return grants, nil
}

// ListPermissions retrieves the permission catalog
func (s *SQLStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	query := `
		SELECT id, name, category, description
		FROM permissions
		ORDER BY category, name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms, err := scanPermissions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan permissions: %w", err)
	}
	return perms, nil
}

// ListUserIDsByCompany retrieves the users of a company
func (s *SQLStore) ListUserIDsByCompany(ctx context.Context, companyID string) ([]string, error) {
	return s.queryIDs(ctx, "users by company",
		`SELECT id FROM users WHERE company_id = $1 ORDER BY id`, companyID)
}

// ListUserIDsByRole retrieves the users holding a role
func (s *SQLStore) ListUserIDsByRole(ctx context.Context, roleID string) ([]string, error) {
	return s.queryIDs(ctx, "users by role",
		`SELECT id FROM users WHERE role_id = $1 ORDER BY id`, roleID)
}

// ListUserIDsByPermission retrieves every user whose effective set may contain the permission
func (s *SQLStore) ListUserIDsByPermission(ctx context.Context, permission string) ([]string, error) {
	query := `
		SELECT u.id FROM users u
		JOIN role_permissions rp ON rp.role_id = u.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE p.name = $1
		UNION
		SELECT up.user_id FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE p.name = $1 AND up.granted = $2
		UNION
		SELECT u.id FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE r.name = $3 OR r.code = $3
		ORDER BY 1
	`
	return s.queryIDs(ctx, "users by permission", query, permission, true, SuperAdminRoleCode)
}

// ListUserIDs retrieves user ids, bounded by limit when positive
func (s *SQLStore) ListUserIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return s.queryIDs(ctx, "users", `SELECT id FROM users ORDER BY id`)
	}
	return s.queryIDs(ctx, "users", `SELECT id FROM users ORDER BY id LIMIT $1`, limit)
}

func (s *SQLStore) queryIDs(ctx context.Context, what, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", what, err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", what, err)
	}
	return ids, nil
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
