package rbac

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wareboxes/wareboxes/internal/platform/db"
)

// Schema is the DDL for the wareboxes role graph tables.
//
//go:embed schema.sql
var Schema string

// ApplySchema creates the wareboxes tables when they are missing.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("rbac: apply schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists the role graph in PostgreSQL.
type PostgresStore struct {
	queries
	pool     *pgxpool.Pool
	attempts int
}

// NewPostgresStore constructs a store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		queries:  queries{q: pool},
		pool:     pool,
		attempts: db.DefaultSerializableAttempts,
	}
}

// WithTx runs fn inside a serializable transaction, replaying it on
// serialization failures.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.WithSerializableTx(ctx, s.pool, s.attempts, func(tx pgx.Tx) error {
		return fn(ctx, queries{q: tx})
	})
}

type queries struct {
	q querier
}

const roleColumns = `id, name, COALESCE(description, ''), parent_id, created, deleted`

const permissionColumns = `id, name, COALESCE(description, ''), created, deleted`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.ParentID, &r.CreatedAt, &r.DeletedAt); err != nil {
		return Role{}, mapError(err)
	}
	return r, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.DeletedAt); err != nil {
		return Permission{}, mapError(err)
	}
	return p, nil
}

func scanUserRole(row pgx.Row) (UserRole, error) {
	var ur UserRole
	if err := row.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.CreatedAt, &ur.DeletedAt); err != nil {
		return UserRole{}, mapError(err)
	}
	return ur, nil
}

func collectRoles(rows pgx.Rows, err error) ([]Role, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func mapError(err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return err
	}
}

func (s queries) RoleByID(ctx context.Context, id int64) (Role, error) {
	return scanRole(s.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM wareboxes.roles WHERE id = $1`, id))
}

func (s queries) RoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(s.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM wareboxes.roles WHERE name = $1`, name))
}

func (s queries) ChildRoles(ctx context.Context, parentIDs []int64) ([]Role, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	return collectRoles(s.q.Query(ctx, `SELECT `+roleColumns+` FROM wareboxes.roles
WHERE parent_id = ANY($1)
ORDER BY id`, parentIDs))
}

func (s queries) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	return collectRoles(s.q.Query(ctx, `SELECT `+roleColumns+` FROM wareboxes.roles
WHERE ($1 OR deleted IS NULL)
  AND ($2 OR COALESCE(description, '') <> $3)
ORDER BY created DESC, id DESC`, filter.ShowDeleted, filter.ShowSelfRoles, SelfRoleDescription))
}

func (s queries) PermissionByID(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(s.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM wareboxes.permissions WHERE id = $1`, id))
}

func (s queries) PermissionByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(s.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM wareboxes.permissions WHERE UPPER(name) = UPPER($1)`, name))
}

func (s queries) ListPermissions(ctx context.Context, showDeleted bool) ([]Permission, error) {
	rows, err := s.q.Query(ctx, `SELECT `+permissionColumns+` FROM wareboxes.permissions
WHERE ($1 OR deleted IS NULL)
ORDER BY created DESC, id DESC`, showDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s queries) RolePermissions(ctx context.Context, roleIDs []int64) ([]GrantedPermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `SELECT p.id, p.name, COALESCE(p.description, ''), p.created, p.deleted, r.id, r.name
FROM wareboxes.role_permissions rp
JOIN wareboxes.permissions p ON p.id = rp.permission_id
JOIN wareboxes.roles r ON r.id = rp.role_id
WHERE rp.role_id = ANY($1)
  AND rp.deleted IS NULL
  AND p.deleted IS NULL
ORDER BY p.id, r.id`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var granted []GrantedPermission
	for rows.Next() {
		var g GrantedPermission
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.DeletedAt, &g.RoleID, &g.RoleName); err != nil {
			return nil, err
		}
		granted = append(granted, g)
	}
	return granted, rows.Err()
}

func (s queries) DirectUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return collectRoles(s.q.Query(ctx, `SELECT r.id, r.name, COALESCE(r.description, ''), r.parent_id, r.created, r.deleted
FROM wareboxes.user_roles ur
JOIN wareboxes.roles r ON r.id = ur.role_id
WHERE ur.user_id = $1
  AND ur.deleted IS NULL
  AND r.deleted IS NULL
ORDER BY r.id`, userID))
}

func (s queries) UserRoleByID(ctx context.Context, id int64) (UserRole, error) {
	return scanUserRole(s.q.QueryRow(ctx, `SELECT id, user_id, role_id, created, deleted
FROM wareboxes.user_roles WHERE id = $1 AND deleted IS NULL`, id))
}

func (s queries) UserRoleByPair(ctx context.Context, userID, roleID int64) (UserRole, error) {
	return scanUserRole(s.q.QueryRow(ctx, `SELECT id, user_id, role_id, created, deleted
FROM wareboxes.user_roles WHERE user_id = $1 AND role_id = $2 AND deleted IS NULL`, userID, roleID))
}

func (s queries) UserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := s.q.QueryRow(ctx, `SELECT email FROM wareboxes.users WHERE id = $1 AND deleted IS NULL`, userID).Scan(&email)
	if err != nil {
		return "", mapError(err)
	}
	return email, nil
}

func (s queries) CreateRole(ctx context.Context, name, description string) (Role, error) {
	return scanRole(s.q.QueryRow(ctx, `INSERT INTO wareboxes.roles (name, description)
VALUES ($1, NULLIF($2, ''))
RETURNING `+roleColumns, name, description))
}

func (s queries) InsertRoleIfAbsent(ctx context.Context, name, description string) (Role, bool, error) {
	role, err := scanRole(s.q.QueryRow(ctx, `INSERT INTO wareboxes.roles (name, description)
VALUES ($1, NULLIF($2, ''))
ON CONFLICT (name) DO NOTHING
RETURNING `+roleColumns, name, description))
	if err == nil {
		return role, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Role{}, false, err
	}
	role, err = s.RoleByName(ctx, name)
	return role, false, err
}

func (s queries) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	return scanRole(s.q.QueryRow(ctx, `UPDATE wareboxes.roles
SET name = $2, description = NULLIF($3, '')
WHERE id = $1
RETURNING `+roleColumns, id, name, description))
}

func (s queries) SetRoleDeleted(ctx context.Context, id int64, deleted bool) error {
	return s.execOne(ctx, `UPDATE wareboxes.roles
SET deleted = CASE WHEN $2 THEN COALESCE(deleted, NOW()) ELSE NULL END
WHERE id = $1`, id, deleted)
}

func (s queries) SetRoleParent(ctx context.Context, childID int64, parentID *int64) error {
	return s.execOne(ctx, `UPDATE wareboxes.roles SET parent_id = $2 WHERE id = $1`, childID, parentID)
}

func (s queries) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	return scanPermission(s.q.QueryRow(ctx, `INSERT INTO wareboxes.permissions (name, description)
VALUES ($1, NULLIF($2, ''))
RETURNING `+permissionColumns, name, description))
}

func (s queries) InsertPermissionIfAbsent(ctx context.Context, name, description string) (Permission, error) {
	perm, err := scanPermission(s.q.QueryRow(ctx, `INSERT INTO wareboxes.permissions (name, description)
VALUES ($1, NULLIF($2, ''))
ON CONFLICT DO NOTHING
RETURNING `+permissionColumns, name, description))
	if errors.Is(err, ErrNotFound) {
		return s.PermissionByName(ctx, name)
	}
	return perm, err
}

func (s queries) SetPermissionDeleted(ctx context.Context, id int64, deleted bool) error {
	return s.execOne(ctx, `UPDATE wareboxes.permissions
SET deleted = CASE WHEN $2 THEN COALESCE(deleted, NOW()) ELSE NULL END
WHERE id = $1`, id, deleted)
}

func (s queries) UpsertRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.q.Exec(ctx, `INSERT INTO wareboxes.role_permissions (role_id, permission_id)
VALUES ($1, $2)
ON CONFLICT (role_id, permission_id) DO UPDATE SET deleted = NULL`, roleID, permissionID)
	return mapError(err)
}

func (s queries) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.q.Exec(ctx, `UPDATE wareboxes.role_permissions
SET deleted = NOW()
WHERE role_id = $1 AND permission_id = $2 AND deleted IS NULL`, roleID, permissionID)
	return err
}

func (s queries) UpsertUserRole(ctx context.Context, userID, roleID int64) (UserRole, error) {
	return scanUserRole(s.q.QueryRow(ctx, `INSERT INTO wareboxes.user_roles (user_id, role_id)
VALUES ($1, $2)
ON CONFLICT (user_id, role_id) DO UPDATE SET deleted = NULL
RETURNING id, user_id, role_id, created, deleted`, userID, roleID))
}

func (s queries) DeleteUserRole(ctx context.Context, id int64) error {
	return s.execOne(ctx, `UPDATE wareboxes.user_roles SET deleted = NOW() WHERE id = $1`, id)
}

func (s queries) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
