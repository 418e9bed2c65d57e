package rbac_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/rbac/rbactest"
)

type fixture struct {
	store     *rbactest.Store
	resolver  *rbac.Resolver
	mutator   *rbac.Mutator
	bootstrap *rbac.Bootstrapper
	gate      *rbac.Gate
	service   *rbac.Service
	metrics   *rbac.Metrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, hook rbac.SelfRoleHook) *fixture {
	t.Helper()
	return newFixtureOn(t, rbactest.NewStore(), hook)
}

func newFixtureOn(t *testing.T, store *rbactest.Store, hook rbac.SelfRoleHook) *fixture {
	t.Helper()
	logger := discardLogger()
	metrics := rbac.NewMetrics(prometheus.NewRegistry())
	resolver := rbac.NewResolver(store)
	bootstrap := rbac.NewBootstrapper(store, hook, logger, metrics)
	return &fixture{
		store:     store,
		resolver:  resolver,
		mutator:   rbac.NewMutator(store, logger, metrics),
		bootstrap: bootstrap,
		gate:      rbac.NewGate(bootstrap, resolver, logger, metrics),
		service:   rbac.NewService(store, resolver),
		metrics:   metrics,
	}
}

func (f *fixture) attach(t *testing.T, parent, child rbac.Role) {
	t.Helper()
	res, err := f.mutator.AttachChildRole(context.Background(), parent.ID, child.ID)
	require.NoError(t, err)
	require.True(t, res.Success, "attach %s under %s: %v", child.Name, parent.Name, res.Errors)
}

func (f *fixture) grant(t *testing.T, role rbac.Role, perm rbac.Permission) {
	t.Helper()
	res, err := f.mutator.AttachPermissionToRole(context.Background(), role.ID, perm.ID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Errors)
}

func (f *fixture) assign(t *testing.T, userID int64, role rbac.Role) {
	t.Helper()
	res, err := f.mutator.AttachRoleToUser(context.Background(), userID, role.ID)
	require.NoError(t, err)
	require.True(t, res.Success, res.Errors)
}

// user registers an active user and bootstraps its self role.
func (f *fixture) user(t *testing.T, email string) (*rbac.Identity, rbac.Role) {
	t.Helper()
	id := &rbac.Identity{ID: f.store.AddUser(email), Email: email}
	require.NoError(t, f.bootstrap.EnsureSelfRole(context.Background(), id.ID, id.Email))
	self, err := f.store.RoleByName(context.Background(), email)
	require.NoError(t, err)
	return id, self
}

func (f *fixture) role(t *testing.T, id int64) rbac.Role {
	t.Helper()
	r, err := f.store.RoleByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func roleIDs(roles []rbac.Role) []int64 {
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	return ids
}

func permissionNames(perms []rbac.Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}
