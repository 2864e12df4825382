package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// Fixed identifiers of the rows seeded by the built-ins migration
const (
	BuiltInSuperAdminRoleID        = "00000000-0000-4000-8000-000000000001"
	BuiltInManageCachePermissionID = "00000000-0000-4000-8000-000000000101"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission schema migrations.
// Column types are limited to what both PostgreSQL and SQLite accept.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create companies, roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS companies (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					code TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					category TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     2,
			Description: "Create users and user_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
					email TEXT NOT NULL DEFAULT '',
					role_id TEXT REFERENCES roles(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_company_id ON users(company_id);
				CREATE INDEX IF NOT EXISTS idx_users_role_id ON users(role_id);

				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL DEFAULT TRUE,
					granted_by TEXT,
					granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					expires_at TIMESTAMP,
					PRIMARY KEY (user_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_permission_id ON user_permissions(permission_id);
			`,
		},
		{
			Version:     3,
			Description: "Seed super admin role and cache management permission",
			SQL: `
				INSERT INTO roles (id, name, code, description)
				VALUES ('` + BuiltInSuperAdminRoleID + `', '` + SuperAdminRoleName + `', '` + SuperAdminRoleCode + `', 'Implicitly holds every permission');

				INSERT INTO permissions (id, name, category, description)
				VALUES ('` + BuiltInManageCachePermissionID + `', '` + ManageCachePermission + `', 'administration', 'Invalidate, warm up and inspect the permission cache');
			`,
		},
	}
}

// RunMigrations executes all pending migrations and returns the versions it applied
func RunMigrations(ctx context.Context, db *sql.DB) ([]int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read migration versions: %w", err)
	}
	rows.Close()

	var applied []int
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return applied, err
		}
		applied = append(applied, migration.Version)
	}

	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
