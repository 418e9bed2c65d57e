package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/rbac/rbactest"
)

func TestSeedRBACIsRepeatable(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := rbactest.NewStore()
	metrics := rbac.NewMetrics(prometheus.NewRegistry())
	mutator := rbac.NewMutator(store, logger, metrics)

	first, err := seedRBAC(ctx, store, mutator)
	require.NoError(t, err)
	second, err := seedRBAC(ctx, store, mutator)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.RolesNamed(administratorsRole))

	perms, err := store.ListPermissions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, perms, len(basePermissions))

	email := "boss@example.com"
	id := &rbac.Identity{ID: store.AddUser(email), Email: email}
	res, err := mutator.AttachRoleToUser(ctx, id.ID, first.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	gate := rbac.NewGate(rbac.NewBootstrapper(store, nil, logger, metrics), rbac.NewResolver(store), logger, metrics)
	decision, err := gate.Authorize(ctx, id, rbac.AdminPermission)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	decision, err = gate.Authorize(ctx, id, "wms")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
