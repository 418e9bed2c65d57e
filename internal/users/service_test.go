package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/rbac/rbactest"
)

// memoryRepo keeps users in memory and registers them with the role store so
// both sides agree on ids.
type memoryRepo struct {
	mu     sync.Mutex
	store  *rbactest.Store
	users  map[int64]User
	hashes map[int64]string
}

func newMemoryRepo(store *rbactest.Store) *memoryRepo {
	return &memoryRepo{store: store, users: map[int64]User{}, hashes: map[int64]string{}}
}

func (m *memoryRepo) UserByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memoryRepo) InsertUser(_ context.Context, email string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, false, nil
		}
	}
	id := m.store.AddUser(email)
	u := User{ID: id, Email: email, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.users[id] = u
	return u, true, nil
}

func (m *memoryRepo) ListUsers(_ context.Context, showDeleted bool, limit, offset int) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []User
	for _, u := range m.users {
		if u.Deleted() && !showDeleted {
			continue
		}
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memoryRepo) UpdateProfile(_ context.Context, id int64, upd ProfileUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.NickName != nil {
		u.NickName = *upd.NickName
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	m.users[id] = u
	return u, nil
}

func (m *memoryRepo) SetDeleted(_ context.Context, id int64, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if deleted {
		now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
		u.DeletedAt = &now
		m.store.DeleteUser(id)
	} else {
		u.DeletedAt = nil
	}
	m.users[id] = u
	return nil
}

func (m *memoryRepo) SetPasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	m.hashes[id] = hash
	return nil
}

type usersFixture struct {
	store   *rbactest.Store
	repo    *memoryRepo
	mutator *rbac.Mutator
	gate    *rbac.Gate
	service *Service
}

func newUsersFixture(t *testing.T) *usersFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := rbactest.NewStore()
	metrics := rbac.NewMetrics(prometheus.NewRegistry())
	resolver := rbac.NewResolver(store)
	bootstrap := rbac.NewBootstrapper(store, nil, logger, metrics)
	repo := newMemoryRepo(store)
	return &usersFixture{
		store:   store,
		repo:    repo,
		mutator: rbac.NewMutator(store, logger, metrics),
		gate:    rbac.NewGate(bootstrap, resolver, logger, metrics),
		service: NewService(repo, store, resolver, bootstrap, logger),
	}
}

func TestEnsureUserCreatesUserAndSelfRole(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()

	u, err := f.service.EnsureUser(ctx, "  u2@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u2@example.com", u.Email)

	again, err := f.service.EnsureUser(ctx, "u2@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	assert.Equal(t, 1, f.store.RolesNamed("u2@example.com"))
	detail, err := f.service.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, detail.Roles, 1)
	assert.True(t, detail.Roles[0].IsSelfRole())
	assert.Equal(t, "u2@example.com", detail.Roles[0].Name)
	assert.Empty(t, detail.Permissions)
}

func TestEnsureUserRequiresEmail(t *testing.T) {
	f := newUsersFixture(t)
	_, err := f.service.EnsureUser(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEnsureUserSkipsDeletedUser(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	u, _, err := f.repo.InsertUser(ctx, "gone@example.com")
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, u.ID))

	got, err := f.service.EnsureUser(ctx, "gone@example.com")
	require.NoError(t, err)
	assert.True(t, got.Deleted())
	assert.Zero(t, f.store.RolesNamed("gone@example.com"))
}

func TestDetailIncludesInheritedPermissions(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	a := f.store.MustRole("A")
	b := f.store.MustRole("B")
	orders := f.store.MustPermission("orders")
	res, err := f.mutator.AttachPermissionToRole(ctx, a.ID, orders.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	res, err = f.mutator.AttachChildRole(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	u, err := f.service.EnsureUser(ctx, "u@example.com")
	require.NoError(t, err)
	res, err = f.mutator.AttachRoleToUser(ctx, u.ID, b.ID)
	require.NoError(t, err)
	require.True(t, res.Success)

	detail, err := f.service.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, detail.Permissions, 1)
	assert.Equal(t, "ORDERS", detail.Permissions[0].Name)
	assert.Len(t, detail.Roles, 2, "direct roles only")
}

func TestListPaginates(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := f.service.EnsureUser(ctx, email)
		require.NoError(t, err)
	}

	page, err := f.service.List(ctx, ListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "c@example.com", page.Users[0].Email)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Users[0].Roles, 1)

	first, err := f.service.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, first.Users, 3)
	assert.Equal(t, 1, first.Pagination.Page)
}

func TestListReportsRoleStoreFailure(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	_, err := f.service.EnsureUser(ctx, "a@example.com")
	require.NoError(t, err)
	boom := errors.New("db down")
	f.store.FailWith(boom)

	_, err = f.service.List(ctx, ListFilter{})
	assert.ErrorIs(t, err, boom)
}

func TestUpdateDeleteRestore(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	u, err := f.service.EnsureUser(ctx, "edit@example.com")
	require.NoError(t, err)

	_, err = f.service.Update(ctx, u.ID, ProfileUpdate{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	first := "Ada"
	updated, err := f.service.Update(ctx, u.ID, ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)

	require.NoError(t, f.service.Delete(ctx, u.ID))
	got, err := f.service.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted())

	require.NoError(t, f.service.Restore(ctx, u.ID))
	got, err = f.service.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted())

	assert.ErrorIs(t, f.service.Delete(ctx, 9999), ErrNotFound)
}

func TestSetPassword(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	u, err := f.service.EnsureUser(ctx, "pw@example.com")
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.SetPassword(ctx, u.ID, "short"), ErrInvalidInput)
	require.NoError(t, f.service.SetPassword(ctx, u.ID, "correct horse"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(f.repo.hashes[u.ID]), []byte("correct horse")))
}
