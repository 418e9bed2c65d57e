// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wareboxes/wareboxes/internal/rbac"
)

type rolePermission struct {
	id           int64
	roleID       int64
	permissionID int64
	deleted      *time.Time
}

type user struct {
	id      int64
	email   string
	deleted *time.Time
}

type state struct {
	seq         int64
	roles       map[int64]rbac.Role
	permissions map[int64]rbac.Permission
	rolePerms   []rolePermission
	userRoles   []rbac.UserRole
	users       map[int64]user
}

func (s *state) clone() *state {
	c := &state{
		seq:         s.seq,
		roles:       make(map[int64]rbac.Role, len(s.roles)),
		permissions: make(map[int64]rbac.Permission, len(s.permissions)),
		rolePerms:   append([]rolePermission(nil), s.rolePerms...),
		userRoles:   append([]rbac.UserRole(nil), s.userRoles...),
		users:       make(map[int64]user, len(s.users)),
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// Store is a mutex guarded rbac.Store. Transactions are serialized and a
// failing transaction restores the state it started from.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	base time.Time
	fail error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		st: &state{
			roles:       map[int64]rbac.Role{},
			permissions: map[int64]rbac.Permission{},
			users:       map[int64]user{},
		},
		base: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailWith makes every subsequent read return err. Passing nil clears it.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// WithTx runs fn against the store; fn's error rolls back every write it made.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx rbac.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	err := fn(ctx, s)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
	}
	return err
}

// AddUser registers an active user and returns its id.
func (s *Store) AddUser(email string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next()
	s.st.users[id] = user{id: id, email: email}
	return id
}

// DeleteUser soft-deletes a user.
func (s *Store) DeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.st.users[id]
	now := s.now()
	u.deleted = &now
	s.st.users[id] = u
}

// MustRole creates a shared role and panics on failure.
func (s *Store) MustRole(name string) rbac.Role {
	r, err := s.CreateRole(context.Background(), name, name+" role")
	if err != nil {
		panic(err)
	}
	return r
}

// MustPermission creates a permission and panics on failure.
func (s *Store) MustPermission(name string) rbac.Permission {
	p, err := s.CreatePermission(context.Background(), name, "")
	if err != nil {
		panic(err)
	}
	return p
}

// RolesNamed counts roles, deleted or not, with the given name.
func (s *Store) RolesNamed(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.st.roles {
		if r.Name == name {
			n++
		}
	}
	return n
}

// UserRoleEdges returns every user-role edge of userID, deleted ones included.
func (s *Store) UserRoleEdges(userID int64) []rbac.UserRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rbac.UserRole
	for _, ur := range s.st.userRoles {
		if ur.UserID == userID {
			out = append(out, ur)
		}
	}
	return out
}

func (s *Store) next() int64 {
	s.st.seq++
	return s.st.seq
}

func (s *Store) now() time.Time {
	return s.base.Add(time.Duration(s.st.seq) * time.Second)
}

func (s *Store) RoleByID(ctx context.Context, id int64) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return rbac.Role{}, s.fail
	}
	r, ok := s.st.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return r, nil
}

func (s *Store) RoleByName(ctx context.Context, name string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return rbac.Role{}, s.fail
	}
	for _, r := range s.st.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return rbac.Role{}, rbac.ErrNotFound
}

func (s *Store) ChildRoles(ctx context.Context, parentIDs []int64) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	parents := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}
	var out []rbac.Role
	for _, r := range s.st.roles {
		if r.ParentID != nil && parents[*r.ParentID] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListRoles(ctx context.Context, filter rbac.RoleFilter) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var out []rbac.Role
	for _, r := range s.st.roles {
		if r.Deleted() && !filter.ShowDeleted {
			continue
		}
		if r.IsSelfRole() && !filter.ShowSelfRoles {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) PermissionByID(ctx context.Context, id int64) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return rbac.Permission{}, s.fail
	}
	p, ok := s.st.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return p, nil
}

func (s *Store) PermissionByName(ctx context.Context, name string) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return rbac.Permission{}, s.fail
	}
	return s.permissionByName(name)
}

func (s *Store) permissionByName(name string) (rbac.Permission, error) {
	for _, p := range s.st.permissions {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return rbac.Permission{}, rbac.ErrNotFound
}

func (s *Store) ListPermissions(ctx context.Context, showDeleted bool) ([]rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var out []rbac.Permission
	for _, p := range s.st.permissions {
		if p.Deleted() && !showDeleted {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) RolePermissions(ctx context.Context, roleIDs []int64) ([]rbac.GrantedPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	wanted := make(map[int64]bool, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = true
	}
	var out []rbac.GrantedPermission
	for _, rp := range s.st.rolePerms {
		if rp.deleted != nil || !wanted[rp.roleID] {
			continue
		}
		p, ok := s.st.permissions[rp.permissionID]
		if !ok || p.Deleted() {
			continue
		}
		out = append(out, rbac.GrantedPermission{Permission: p, RoleID: rp.roleID, RoleName: s.st.roles[rp.roleID].Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].RoleID < out[j].RoleID
	})
	return out, nil
}

func (s *Store) DirectUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	var out []rbac.Role
	for _, ur := range s.st.userRoles {
		if ur.UserID != userID || ur.DeletedAt != nil {
			continue
		}
		r, ok := s.st.roles[ur.RoleID]
		if !ok || r.Deleted() {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UserRoleByID(ctx context.Context, id int64) (rbac.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return rbac.UserRole{}, s.fail
	}
	for _, ur := range s.st.userRoles {
		if ur.ID == id && ur.DeletedAt == nil {
			return ur, nil
		}
	}
	return rbac.UserRole{}, rbac.ErrNotFound
}

func (s *Store) UserRoleByPair(ctx context.Context, userID, roleID int64) (rbac.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return rbac.UserRole{}, s.fail
	}
	for _, ur := range s.st.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID && ur.DeletedAt == nil {
			return ur, nil
		}
	}
	return rbac.UserRole{}, rbac.ErrNotFound
}

func (s *Store) UserEmail(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	u, ok := s.st.users[userID]
	if !ok || u.deleted != nil {
		return "", rbac.ErrNotFound
	}
	return u.email, nil
}

func (s *Store) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRole(name, description)
}

func (s *Store) createRole(name, description string) (rbac.Role, error) {
	for _, r := range s.st.roles {
		if r.Name == name {
			return rbac.Role{}, fmt.Errorf("role %q: %w", name, rbac.ErrConstraint)
		}
	}
	id := s.next()
	r := rbac.Role{ID: id, Name: name, Description: description, CreatedAt: s.now()}
	s.st.roles[id] = r
	return r, nil
}

func (s *Store) InsertRoleIfAbsent(ctx context.Context, name, description string) (rbac.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.st.roles {
		if r.Name == name {
			return r, false, nil
		}
	}
	r, err := s.createRole(name, description)
	return r, err == nil, err
}

func (s *Store) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	for _, other := range s.st.roles {
		if other.ID != id && other.Name == name {
			return rbac.Role{}, fmt.Errorf("role %q: %w", name, rbac.ErrConstraint)
		}
	}
	r.Name, r.Description = name, description
	s.st.roles[id] = r
	return r, nil
}

func (s *Store) SetRoleDeleted(ctx context.Context, id int64, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.roles[id]
	if !ok {
		return rbac.ErrNotFound
	}
	r.DeletedAt = s.deletedAt(r.DeletedAt, deleted)
	s.st.roles[id] = r
	return nil
}

func (s *Store) SetRoleParent(ctx context.Context, childID int64, parentID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.roles[childID]
	if !ok {
		return rbac.ErrNotFound
	}
	if parentID != nil {
		p := *parentID
		parentID = &p
	}
	r.ParentID = parentID
	s.st.roles[childID] = r
	return nil
}

func (s *Store) CreatePermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPermission(name, description)
}

func (s *Store) createPermission(name, description string) (rbac.Permission, error) {
	if _, err := s.permissionByName(name); err == nil {
		return rbac.Permission{}, fmt.Errorf("permission %q: %w", name, rbac.ErrConstraint)
	}
	id := s.next()
	p := rbac.Permission{ID: id, Name: name, Description: description, CreatedAt: s.now()}
	s.st.permissions[id] = p
	return p, nil
}

func (s *Store) InsertPermissionIfAbsent(ctx context.Context, name, description string) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, err := s.permissionByName(name); err == nil {
		return p, nil
	}
	return s.createPermission(name, description)
}

func (s *Store) SetPermissionDeleted(ctx context.Context, id int64, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.permissions[id]
	if !ok {
		return rbac.ErrNotFound
	}
	p.DeletedAt = s.deletedAt(p.DeletedAt, deleted)
	s.st.permissions[id] = p
	return nil
}

func (s *Store) UpsertRolePermission(ctx context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rp := range s.st.rolePerms {
		if rp.roleID == roleID && rp.permissionID == permissionID {
			s.st.rolePerms[i].deleted = nil
			return nil
		}
	}
	s.st.rolePerms = append(s.st.rolePerms, rolePermission{id: s.next(), roleID: roleID, permissionID: permissionID})
	return nil
}

func (s *Store) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rp := range s.st.rolePerms {
		if rp.roleID == roleID && rp.permissionID == permissionID && rp.deleted == nil {
			now := s.now()
			s.st.rolePerms[i].deleted = &now
		}
	}
	return nil
}

// UpsertUserRole rejects users never registered with AddUser, as the
// users foreign key does.
func (s *Store) UpsertUserRole(ctx context.Context, userID, roleID int64) (rbac.UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.users[userID]; !ok {
		return rbac.UserRole{}, rbac.ErrNotFound
	}
	for i, ur := range s.st.userRoles {
		if ur.UserID == userID && ur.RoleID == roleID {
			s.st.userRoles[i].DeletedAt = nil
			return s.st.userRoles[i], nil
		}
	}
	ur := rbac.UserRole{ID: s.next(), UserID: userID, RoleID: roleID, CreatedAt: s.now()}
	s.st.userRoles = append(s.st.userRoles, ur)
	return ur, nil
}

func (s *Store) DeleteUserRole(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ur := range s.st.userRoles {
		if ur.ID == id {
			if ur.DeletedAt == nil {
				now := s.now()
				s.st.userRoles[i].DeletedAt = &now
			}
			return nil
		}
	}
	return rbac.ErrNotFound
}

func (s *Store) deletedAt(current *time.Time, deleted bool) *time.Time {
	if !deleted {
		return nil
	}
	if current != nil {
		return current
	}
	now := s.now()
	return &now
}

var _ rbac.Store = (*Store)(nil)
