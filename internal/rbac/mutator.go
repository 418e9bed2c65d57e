package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// MutationKind enumerates the structural edits the Mutator accepts.
type MutationKind int

const (
	AttachChildRole MutationKind = iota + 1
	DetachChildRole
	AttachPermission
	DetachPermission
	AttachUserRole
	DetachUserRole
)

var mutationNames = map[MutationKind]string{
	AttachChildRole:  "attach_child_role",
	DetachChildRole:  "detach_child_role",
	AttachPermission: "attach_permission",
	DetachPermission: "detach_permission",
	AttachUserRole:   "attach_user_role",
	DetachUserRole:   "detach_user_role",
}

func (k MutationKind) String() string {
	if name, ok := mutationNames[k]; ok {
		return name
	}
	return fmt.Sprintf("mutation(%d)", int(k))
}

// Mutation is one structural edit. Only the fields relevant to Kind are read.
type Mutation struct {
	Kind         MutationKind
	RoleID       int64
	ChildRoleID  int64
	PermissionID int64
	UserID       int64
	UserRoleID   int64
}

// AttachChild builds a mutation placing child below parent.
func AttachChild(parentRoleID, childRoleID int64) Mutation {
	return Mutation{Kind: AttachChildRole, RoleID: parentRoleID, ChildRoleID: childRoleID}
}

// DetachChild builds a mutation removing child from below parent.
func DetachChild(parentRoleID, childRoleID int64) Mutation {
	return Mutation{Kind: DetachChildRole, RoleID: parentRoleID, ChildRoleID: childRoleID}
}

// GrantPermission builds a mutation attaching a permission to a role.
func GrantPermission(roleID, permissionID int64) Mutation {
	return Mutation{Kind: AttachPermission, RoleID: roleID, PermissionID: permissionID}
}

// RevokePermission builds a mutation detaching a permission from a role.
func RevokePermission(roleID, permissionID int64) Mutation {
	return Mutation{Kind: DetachPermission, RoleID: roleID, PermissionID: permissionID}
}

// AssignRole builds a mutation binding a role to a user.
func AssignRole(userID, roleID int64) Mutation {
	return Mutation{Kind: AttachUserRole, UserID: userID, RoleID: roleID}
}

// UnassignRole builds a mutation removing the (user, role) edge.
func UnassignRole(userID, roleID int64) Mutation {
	return Mutation{Kind: DetachUserRole, UserID: userID, RoleID: roleID}
}

// UnassignRoleEdge builds a mutation removing a user-role edge by its id.
func UnassignRoleEdge(userRoleID int64) Mutation {
	return Mutation{Kind: DetachUserRole, UserRoleID: userRoleID}
}

// Mutator validates and applies structural edits to the role graph. Each
// edit runs its checks and its write inside one store transaction.
type Mutator struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewMutator constructs a Mutator.
func NewMutator(store Store, logger *slog.Logger, metrics *Metrics) *Mutator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{store: store, logger: logger, metrics: metrics}
}

// Apply validates and performs m. Expected rejections come back as a
// Result with Success=false and a nil error; store failures are errors.
func (m *Mutator) Apply(ctx context.Context, mu Mutation) (Result, error) {
	var res Result
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, err = m.apply(ctx, tx, mu)
		return err
	})
	if err != nil {
		m.metrics.observeMutation(mu.Kind, "error")
		m.logger.Error("rbac mutation", slog.String("kind", mu.Kind.String()), slog.Any("error", err))
		return Result{}, err
	}
	if !res.Success {
		m.metrics.observeMutation(mu.Kind, "rejected")
		m.logger.Info("rbac mutation rejected", slog.String("kind", mu.Kind.String()), slog.Any("reasons", res.Errors))
		return res, nil
	}
	m.metrics.observeMutation(mu.Kind, "applied")
	return res, nil
}

func (m *Mutator) apply(ctx context.Context, tx Tx, mu Mutation) (Result, error) {
	switch mu.Kind {
	case AttachChildRole:
		return attachChildRole(ctx, tx, mu.RoleID, mu.ChildRoleID)
	case DetachChildRole:
		return detachChildRole(ctx, tx, mu.RoleID, mu.ChildRoleID)
	case AttachPermission:
		return attachPermission(ctx, tx, mu.RoleID, mu.PermissionID)
	case DetachPermission:
		return detachPermission(ctx, tx, mu.RoleID, mu.PermissionID)
	case AttachUserRole:
		return attachUserRole(ctx, tx, mu.UserID, mu.RoleID)
	case DetachUserRole:
		return detachUserRole(ctx, tx, mu)
	default:
		return Result{}, fmt.Errorf("rbac: unknown mutation kind %d", int(mu.Kind))
	}
}

// AttachChildRole places child below parent, replacing any previous parent.
func (m *Mutator) AttachChildRole(ctx context.Context, parentRoleID, childRoleID int64) (Result, error) {
	return m.Apply(ctx, AttachChild(parentRoleID, childRoleID))
}

// DetachChildRole clears child's parent when it is parentRoleID.
func (m *Mutator) DetachChildRole(ctx context.Context, parentRoleID, childRoleID int64) (Result, error) {
	return m.Apply(ctx, DetachChild(parentRoleID, childRoleID))
}

// AttachPermissionToRole grants permissionID to roleID.
func (m *Mutator) AttachPermissionToRole(ctx context.Context, roleID, permissionID int64) (Result, error) {
	return m.Apply(ctx, GrantPermission(roleID, permissionID))
}

// DetachPermissionFromRole revokes permissionID from roleID.
func (m *Mutator) DetachPermissionFromRole(ctx context.Context, roleID, permissionID int64) (Result, error) {
	return m.Apply(ctx, RevokePermission(roleID, permissionID))
}

// AttachRoleToUser binds roleID to userID.
func (m *Mutator) AttachRoleToUser(ctx context.Context, userID, roleID int64) (Result, error) {
	return m.Apply(ctx, AssignRole(userID, roleID))
}

// DetachRoleFromUser removes the (userID, roleID) edge.
func (m *Mutator) DetachRoleFromUser(ctx context.Context, userID, roleID int64) (Result, error) {
	return m.Apply(ctx, UnassignRole(userID, roleID))
}

// DetachUserRoleEdge removes a user-role edge by id.
func (m *Mutator) DetachUserRoleEdge(ctx context.Context, userRoleID int64) (Result, error) {
	return m.Apply(ctx, UnassignRoleEdge(userRoleID))
}

func attachChildRole(ctx context.Context, tx Tx, parentID, childID int64) (Result, error) {
	if parentID == childID {
		return rejected(ErrInvalidRelationship, "Parent and child roles cannot be the same"), nil
	}
	parent, ok, err := activeRole(ctx, tx, parentID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return rejected(ErrNotFound, "Parent role not found"), nil
	}
	child, ok, err := activeRole(ctx, tx, childID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return rejected(ErrNotFound, "Child role not found"), nil
	}
	if parent.IsSelfRole() || child.IsSelfRole() {
		return rejected(ErrSelfRole, "Self roles cannot be part of the role hierarchy"), nil
	}

	resolver := NewResolver(tx)
	descendants, err := resolver.Descendants(ctx, parentID)
	if err != nil {
		return Result{}, err
	}
	if containsRole(descendants, childID) {
		return rejected(ErrInvalidRelationship, "Child role is already a child of the parent role"), nil
	}
	ancestors, err := resolver.Ancestors(ctx, parentID)
	if err != nil {
		return Result{}, err
	}
	if containsRole(ancestors, childID) {
		return rejected(ErrInvalidRelationship, "Child role is a parent of the parent role"), nil
	}
	chain, err := resolver.chainIDs(ctx, parentID)
	if err != nil {
		return Result{}, err
	}
	if _, loops := chain[childID]; loops {
		return rejected(ErrInvalidRelationship, "Child role is a parent of the parent role through a deleted role"), nil
	}

	if err := tx.SetRoleParent(ctx, childID, &parentID); err != nil {
		return Result{}, fmt.Errorf("rbac: set parent: %w", err)
	}
	return succeeded(true), nil
}

func detachChildRole(ctx context.Context, tx Tx, parentID, childID int64) (Result, error) {
	if _, err := tx.RoleByID(ctx, parentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound, "Parent role not found"), nil
		}
		return Result{}, err
	}
	child, err := tx.RoleByID(ctx, childID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound, "Child role not found"), nil
		}
		return Result{}, err
	}
	if !child.HasParent(parentID) {
		return rejected(ErrInvalidRelationship, "Role is not a child of the parent role"), nil
	}
	if err := tx.SetRoleParent(ctx, childID, nil); err != nil {
		return Result{}, fmt.Errorf("rbac: clear parent: %w", err)
	}
	return succeeded(true), nil
}

func attachPermission(ctx context.Context, tx Tx, roleID, permissionID int64) (Result, error) {
	if _, ok, err := activeRole(ctx, tx, roleID); err != nil || !ok {
		if err != nil {
			return Result{}, err
		}
		return rejected(ErrNotFound, "Role not found"), nil
	}
	perm, err := tx.PermissionByID(ctx, permissionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound, "Permission not found"), nil
		}
		return Result{}, err
	}
	if perm.Deleted() {
		return rejected(ErrNotFound, "Permission not found"), nil
	}
	if err := tx.UpsertRolePermission(ctx, roleID, permissionID); err != nil {
		return Result{}, fmt.Errorf("rbac: upsert role permission: %w", err)
	}
	return succeeded(true), nil
}

func detachPermission(ctx context.Context, tx Tx, roleID, permissionID int64) (Result, error) {
	if _, err := tx.RoleByID(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound, "Role not found"), nil
		}
		return Result{}, err
	}
	if err := tx.DeleteRolePermission(ctx, roleID, permissionID); err != nil {
		return Result{}, fmt.Errorf("rbac: delete role permission: %w", err)
	}
	return succeeded(true), nil
}

func attachUserRole(ctx context.Context, tx Tx, userID, roleID int64) (Result, error) {
	email, err := tx.UserEmail(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound, "User not found"), nil
		}
		return Result{}, err
	}
	role, ok, err := activeRole(ctx, tx, roleID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return rejected(ErrNotFound, "Role not found"), nil
	}
	if role.IsSelfRole() && role.Name != email {
		return rejected(ErrSelfRole, "Self role belongs to another user"), nil
	}
	edge, err := tx.UpsertUserRole(ctx, userID, roleID)
	if err != nil {
		return Result{}, fmt.Errorf("rbac: upsert user role: %w", err)
	}
	return succeeded(edge), nil
}

func detachUserRole(ctx context.Context, tx Tx, mu Mutation) (Result, error) {
	var (
		edge UserRole
		err  error
	)
	switch {
	case mu.UserRoleID > 0:
		edge, err = tx.UserRoleByID(ctx, mu.UserRoleID)
	case mu.UserID > 0 && mu.RoleID > 0:
		edge, err = tx.UserRoleByPair(ctx, mu.UserID, mu.RoleID)
	default:
		return rejected(ErrInvalidInput, "Either userId and roleId or userRoleId is required"), nil
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rejected(ErrNotFound, "User role not found"), nil
		}
		return Result{}, err
	}
	role, err := tx.RoleByID(ctx, edge.RoleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Result{}, err
	}
	if role.IsSelfRole() {
		return rejected(ErrSelfRole, "Cannot delete self role"), nil
	}
	if err := tx.DeleteUserRole(ctx, edge.ID); err != nil {
		return Result{}, fmt.Errorf("rbac: delete user role: %w", err)
	}
	return succeeded(true), nil
}

func activeRole(ctx context.Context, tx Reader, id int64) (Role, bool, error) {
	role, err := tx.RoleByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Role{}, false, nil
	}
	if err != nil {
		return Role{}, false, err
	}
	return role, !role.Deleted(), nil
}

func containsRole(roles []Role, id int64) bool {
	for _, r := range roles {
		if r.ID == id {
			return true
		}
	}
	return false
}
