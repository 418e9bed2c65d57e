package rbac

import "context"

// Reader is the read side of the role graph store. Lookups by id return
// soft-deleted rows too; callers decide how to treat them.
type Reader interface {
	RoleByID(ctx context.Context, id int64) (Role, error)
	RoleByName(ctx context.Context, name string) (Role, error)
	// ChildRoles returns every role, deleted or not, whose parent is one of parentIDs.
	ChildRoles(ctx context.Context, parentIDs []int64) ([]Role, error)
	ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error)

	PermissionByID(ctx context.Context, id int64) (Permission, error)
	// PermissionByName matches names case-insensitively.
	PermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context, showDeleted bool) ([]Permission, error)
	// RolePermissions returns active permissions on active edges of the given roles.
	RolePermissions(ctx context.Context, roleIDs []int64) ([]GrantedPermission, error)

	// DirectUserRoles returns active roles bound through active edges.
	DirectUserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserRoleByID(ctx context.Context, id int64) (UserRole, error)
	UserRoleByPair(ctx context.Context, userID, roleID int64) (UserRole, error)
	// UserEmail returns the email of an active user.
	UserEmail(ctx context.Context, userID int64) (string, error)
}

// Writer is the mutating side of the role graph store.
type Writer interface {
	// CreateRole fails with ErrConstraint when the name is taken.
	CreateRole(ctx context.Context, name, description string) (Role, error)
	// InsertRoleIfAbsent creates the role unless the name is taken, in which
	// case it returns the existing row and created=false.
	InsertRoleIfAbsent(ctx context.Context, name, description string) (role Role, created bool, err error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	SetRoleDeleted(ctx context.Context, id int64, deleted bool) error
	SetRoleParent(ctx context.Context, childID int64, parentID *int64) error

	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	InsertPermissionIfAbsent(ctx context.Context, name, description string) (Permission, error)
	SetPermissionDeleted(ctx context.Context, id int64, deleted bool) error

	// UpsertRolePermission inserts the edge or clears its deletion mark.
	UpsertRolePermission(ctx context.Context, roleID, permissionID int64) error
	DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error

	// UpsertUserRole inserts the edge or clears its deletion mark.
	UpsertUserRole(ctx context.Context, userID, roleID int64) (UserRole, error)
	DeleteUserRole(ctx context.Context, id int64) error
}

// Tx is a store view bound to one transaction.
type Tx interface {
	Reader
	Writer
}

// Store persists roles, permissions and their edges.
type Store interface {
	Tx
	// WithTx runs fn atomically; fn's error rolls the transaction back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
