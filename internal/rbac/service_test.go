package rbac_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wareboxes/wareboxes/internal/rbac"
)

func strPtr(s string) *string { return &s }

func TestCreateRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "  pickers ", " Warehouse pickers ")
	require.NoError(t, err)
	assert.Equal(t, "pickers", role.Name)
	assert.Equal(t, "Warehouse pickers", role.Description)

	_, err = f.service.CreateRole(ctx, "pickers", "again")
	assert.ErrorIs(t, err, rbac.ErrConstraint)
	_, err = f.service.CreateRole(ctx, " ", "")
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
	_, err = f.service.CreateRole(ctx, "impostor", rbac.SelfRoleDescription)
	assert.ErrorIs(t, err, rbac.ErrSelfRole)
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	role := f.store.MustRole("ops")
	f.store.MustRole("taken")

	updated, err := f.service.UpdateRole(ctx, role.ID, rbac.RoleUpdate{Description: strPtr("Operations")})
	require.NoError(t, err)
	assert.Equal(t, "ops", updated.Name)
	assert.Equal(t, "Operations", updated.Description)

	updated, err = f.service.UpdateRole(ctx, role.ID, rbac.RoleUpdate{Name: strPtr("operations")})
	require.NoError(t, err)
	assert.Equal(t, "operations", updated.Name)
	assert.Equal(t, "Operations", updated.Description)

	_, err = f.service.UpdateRole(ctx, role.ID, rbac.RoleUpdate{})
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)
	_, err = f.service.UpdateRole(ctx, role.ID, rbac.RoleUpdate{Name: strPtr("taken")})
	assert.ErrorIs(t, err, rbac.ErrConstraint)
	_, err = f.service.UpdateRole(ctx, role.ID, rbac.RoleUpdate{Description: strPtr(rbac.SelfRoleDescription)})
	assert.ErrorIs(t, err, rbac.ErrSelfRole)
	_, err = f.service.UpdateRole(ctx, 9999, rbac.RoleUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestSelfRoleCannotBeEdited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, self := f.user(t, "mine@example.com")

	_, err := f.service.UpdateRole(ctx, self.ID, rbac.RoleUpdate{Name: strPtr("renamed")})
	assert.ErrorIs(t, err, rbac.ErrSelfRole)
	assert.ErrorIs(t, f.service.DeleteRole(ctx, self.ID), rbac.ErrSelfRole)
	assert.ErrorIs(t, f.service.RestoreRole(ctx, self.ID), rbac.ErrSelfRole)

	current := f.role(t, self.ID)
	assert.Equal(t, "mine@example.com", current.Name)
	assert.False(t, current.Deleted())
}

func TestListRolesFilters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.store.MustRole("a")
	b := f.store.MustRole("b")
	f.attach(t, a, b)
	_, self := f.user(t, "list@example.com")
	gone := f.store.MustRole("gone")
	require.NoError(t, f.service.DeleteRole(ctx, gone.ID))

	details, err := f.service.ListRoles(ctx, rbac.RoleFilter{})
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, b.ID, details[0].ID, "newest first")
	assert.Equal(t, []int64{a.ID}, roleIDs(details[0].ParentRoles))
	assert.Equal(t, []int64{b.ID}, roleIDs(details[1].ChildRoles))

	details, err = f.service.ListRoles(ctx, rbac.RoleFilter{ShowDeleted: true, ShowSelfRoles: true})
	require.NoError(t, err)
	ids := make([]int64, 0, len(details))
	for _, d := range details {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []int64{gone.ID, self.ID, b.ID, a.ID}, ids)
}

func TestPermissionLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	orders, err := f.service.CreatePermission(ctx, " orders ", "Order desk")
	require.NoError(t, err)
	assert.Equal(t, "orders", orders.Name)

	_, err = f.service.CreatePermission(ctx, "ORDERS", "")
	assert.ErrorIs(t, err, rbac.ErrConstraint)
	_, err = f.service.CreatePermission(ctx, "", "")
	assert.ErrorIs(t, err, rbac.ErrInvalidInput)

	require.NoError(t, f.service.DeletePermission(ctx, orders.ID))
	active, err := f.service.ListPermissions(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := f.service.ListPermissions(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted())

	require.NoError(t, f.service.RestorePermission(ctx, orders.ID))
	active, err = f.service.ListPermissions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	assert.ErrorIs(t, f.service.DeletePermission(ctx, 9999), rbac.ErrNotFound)
	assert.ErrorIs(t, f.service.RestorePermission(ctx, 9999), rbac.ErrNotFound)
}

func TestRestoredRoleRejoinsHierarchy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.store.MustRole("a")
	b := f.store.MustRole("b")
	orders := f.store.MustPermission("orders")
	f.attach(t, a, b)
	f.grant(t, a, orders)
	u, _ := f.user(t, "rejoin@example.com")
	f.assign(t, u.ID, b)

	require.NoError(t, f.service.DeleteRole(ctx, a.ID))
	decision, err := f.gate.Authorize(ctx, u, "orders")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	require.NoError(t, f.service.RestoreRole(ctx, a.ID))
	decision, err = f.gate.Authorize(ctx, u, "orders")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
