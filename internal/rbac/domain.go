package rbac

import "time"

// SelfRoleDescription marks the role bootstrapped for exactly one user.
const SelfRoleDescription = "Self role"

// Role represents a node of the role graph.
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ParentID    *int64     `json:"parentId"`
	CreatedAt   time.Time  `json:"created"`
	DeletedAt   *time.Time `json:"deleted"`
}

// Deleted reports whether the role is soft-deleted.
func (r Role) Deleted() bool { return r.DeletedAt != nil }

// IsSelfRole reports whether the role is a user's self role.
func (r Role) IsSelfRole() bool { return r.Description == SelfRoleDescription }

// HasParent reports whether the role currently points at parentID.
func (r Role) HasParent(parentID int64) bool {
	return r.ParentID != nil && *r.ParentID == parentID
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created"`
	DeletedAt   *time.Time `json:"deleted"`
}

// Deleted reports whether the permission is soft-deleted.
func (p Permission) Deleted() bool { return p.DeletedAt != nil }

// GrantedPermission is a permission together with the role it is attached to.
type GrantedPermission struct {
	Permission
	RoleID   int64  `json:"roleId"`
	RoleName string `json:"roleName"`
}

// UserRole links a user to a role.
type UserRole struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"userId"`
	RoleID    int64      `json:"roleId"`
	CreatedAt time.Time  `json:"created"`
	DeletedAt *time.Time `json:"deleted"`
}

// RoleDetail is a role with its resolved hierarchy and inherited permissions.
type RoleDetail struct {
	Role
	ParentRoles []Role              `json:"parentRoles"`
	ChildRoles  []Role              `json:"childRoles"`
	Permissions []GrantedPermission `json:"rolePermissions"`
}

// RoleFilter narrows role listings.
type RoleFilter struct {
	ShowDeleted   bool
	ShowSelfRoles bool
}

// Identity is the authenticated actor handed over by the auth layer.
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Authenticated reports whether the identity carries both id and email.
func (i *Identity) Authenticated() bool {
	return i != nil && i.ID > 0 && i.Email != ""
}
