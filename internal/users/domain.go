package users

import (
	"time"

	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/shared"
)

// User represents a user account for management.
type User struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	NickName  string     `json:"nickName"`
	Phone     string     `json:"phone"`
	CreatedAt time.Time  `json:"created"`
	DeletedAt *time.Time `json:"deleted"`
}

// Deleted reports whether the user is soft-deleted.
func (u User) Deleted() bool { return u.DeletedAt != nil }

// ProfileUpdate carries editable profile fields. Nil fields are left as they are.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	NickName  *string
	Phone     *string
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.NickName == nil && p.Phone == nil
}

// Detail is a user with directly assigned roles and effective permissions.
type Detail struct {
	User
	Roles       []rbac.Role       `json:"userRoles"`
	Permissions []rbac.Permission `json:"userPermissions"`
}

// ListFilter narrows user listings.
type ListFilter struct {
	ShowDeleted bool
	Page        int
	PerPage     int
}

// Page is one page of user details.
type Page struct {
	Users      []Detail          `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}
