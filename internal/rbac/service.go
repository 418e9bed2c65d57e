package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service orchestrates role and permission administration. Structural edits
// of the graph go through the Mutator; Service covers the entities.
type Service struct {
	store    Store
	resolver *Resolver
}

// NewService constructs a Service backed by store.
func NewService(store Store, resolver *Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// ListRoles returns roles, newest first, with their resolved hierarchy.
func (s *Service) ListRoles(ctx context.Context, filter RoleFilter) ([]RoleDetail, error) {
	roles, err := s.store.ListRoles(ctx, filter)
	if err != nil {
		return nil, err
	}
	details := make([]RoleDetail, 0, len(roles))
	for _, role := range roles {
		detail, err := s.resolver.RoleDetail(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, nil
}

// GetRole fetches a role with its hierarchy.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	return s.resolver.RoleDetail(ctx, id)
}

// ChildCandidates lists roles assignable below id.
func (s *Service) ChildCandidates(ctx context.Context, id int64) ([]Role, error) {
	if _, err := s.store.RoleByID(ctx, id); err != nil {
		return nil, err
	}
	return s.resolver.ChildCandidates(ctx, id)
}

// CreateRole inserts a new shared role. The self role description is
// reserved for the bootstrapper.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	if description == SelfRoleDescription {
		return Role{}, fmt.Errorf("%w: description %q is reserved", ErrSelfRole, SelfRoleDescription)
	}
	return s.store.CreateRole(ctx, name, description)
}

// RoleUpdate carries the fields an administrator may change. Nil fields are
// left untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// UpdateRole renames or re-describes a shared role.
func (s *Service) UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (Role, error) {
	if upd.Name == nil && upd.Description == nil {
		return Role{}, fmt.Errorf("%w: no data to update", ErrInvalidInput)
	}
	var updated Role
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		role, err := tx.RoleByID(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSelfRole() {
			return ErrSelfRole
		}
		name, description := role.Name, role.Description
		if upd.Name != nil {
			name = strings.TrimSpace(*upd.Name)
		}
		if upd.Description != nil {
			description = strings.TrimSpace(*upd.Description)
		}
		if name == "" {
			return fmt.Errorf("%w: role name required", ErrInvalidInput)
		}
		if description == SelfRoleDescription {
			return fmt.Errorf("%w: description %q is reserved", ErrSelfRole, SelfRoleDescription)
		}
		updated, err = tx.UpdateRole(ctx, id, name, description)
		return err
	})
	return updated, err
}

// DeleteRole soft-deletes a shared role. Edges pointing at it are kept.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.setRoleDeleted(ctx, id, true)
}

// RestoreRole clears a role's deletion mark.
func (s *Service) RestoreRole(ctx context.Context, id int64) error {
	return s.setRoleDeleted(ctx, id, false)
}

func (s *Service) setRoleDeleted(ctx context.Context, id int64, deleted bool) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		role, err := tx.RoleByID(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSelfRole() {
			return ErrSelfRole
		}
		return tx.SetRoleDeleted(ctx, id, deleted)
	})
}

// ListPermissions returns permissions, newest first.
func (s *Service) ListPermissions(ctx context.Context, showDeleted bool) ([]Permission, error) {
	return s.store.ListPermissions(ctx, showDeleted)
}

// CreatePermission inserts a permission. Names are unique regardless of case.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name required", ErrInvalidInput)
	}
	if _, err := s.store.PermissionByName(ctx, name); err == nil {
		return Permission{}, fmt.Errorf("permission %q: %w", name, ErrConstraint)
	} else if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	return s.store.CreatePermission(ctx, name, strings.TrimSpace(description))
}

// DeletePermission soft-deletes a permission. Role edges are kept.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	if _, err := s.store.PermissionByID(ctx, id); err != nil {
		return err
	}
	return s.store.SetPermissionDeleted(ctx, id, true)
}

// RestorePermission clears a permission's deletion mark.
func (s *Service) RestorePermission(ctx context.Context, id int64) error {
	if _, err := s.store.PermissionByID(ctx, id); err != nil {
		return err
	}
	return s.store.SetPermissionDeleted(ctx, id, false)
}
