package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wareboxes/wareboxes/internal/auth"
	"github.com/wareboxes/wareboxes/internal/observability"
	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/rbac/rbactest"
	"github.com/wareboxes/wareboxes/internal/shared"
	"github.com/wareboxes/wareboxes/jobs"
)

type userTable map[string]*auth.User

func (u userTable) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	if user, ok := u[email]; ok {
		return user, nil
	}
	return nil, auth.ErrInvalidCredentials
}

type client struct {
	t      *testing.T
	router http.Handler
	cookie *http.Cookie
}

func (c *client) do(method, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == "wb_session" {
			c.cookie = ck
		}
	}
	return rr
}

func newTestRouter(t *testing.T) (*client, *rbactest.Store, int64) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 100}
	store := rbactest.NewStore()
	metrics := observability.NewMetrics()
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())
	resolver := rbac.NewResolver(store)
	gate := rbac.NewGate(rbac.NewBootstrapper(store, nil, logger, rbacMetrics), resolver, logger, rbacMetrics)
	authz := rbac.Middleware{Gate: gate, Logger: logger}

	hash, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	email := "clerk@example.com"
	uid := store.AddUser(email)
	users := userTable{email: {ID: uid, Email: email, PasswordHash: string(hash)}}

	sessions := shared.NewSessionManager(redisClient, "wb_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf")
	router := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		AuthHandler:    auth.NewHandler(logger, auth.NewService(users), gate, sessions, csrf),
		RBACHandler:    rbac.NewHandler(logger, rbac.NewService(store, resolver), rbac.NewMutator(store, logger, rbacMetrics), authz),
		JobHandler:     jobs.NewHandler(nil, logger),
		RBACMiddleware: authz,
		Metrics:        metrics,
	})
	return &client{t: t, router: router}, store, uid
}

func csrfToken(t *testing.T, c *client) string {
	t.Helper()
	rr := c.do(http.MethodGet, "/auth/csrf", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body["csrfToken"])
	return body["csrfToken"]
}

func TestHealthzAndSecureHeaders(t *testing.T) {
	c, _, _ := newTestRouter(t)
	rr := c.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotNil(t, c.cookie, "session cookie issued")
}

func TestUnsafeRequestsNeedCSRFToken(t *testing.T) {
	c, _, _ := newTestRouter(t)
	login := url.Values{"email": {"clerk@example.com"}, "password": {"correctpass"}}

	rr := c.do(http.MethodPost, "/auth/login", login, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	token := csrfToken(t, c)
	rr = c.do(http.MethodPost, "/auth/login", login, http.Header{shared.CSRFHeader: {"bogus"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = c.do(http.MethodPost, "/auth/login", login, http.Header{shared.CSRFHeader: {token}})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	form := url.Values{rbac.ActionField: {"createRole"}, "name": {"pickers"}, shared.CSRFFormField: {csrfToken(t, c)}}
	rr = c.do(http.MethodPost, "/admin/roles/", form, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code, "signed in without the admin permission")
}

func TestAdminRoutesRequireSignIn(t *testing.T) {
	c, _, _ := newTestRouter(t)
	for _, target := range []string{"/admin/roles/", "/admin/permissions/", "/admin/jobs/health"} {
		rr := c.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, target)
	}
}

func TestAdminSessionReachesAdminRoutes(t *testing.T) {
	c, store, uid := newTestRouter(t)
	ctx := context.Background()
	admins := store.MustRole("administrators")
	perm := store.MustPermission(rbac.AdminPermission)
	require.NoError(t, store.UpsertRolePermission(ctx, admins.ID, perm.ID))
	_, err := store.UpsertUserRole(ctx, uid, admins.ID)
	require.NoError(t, err)

	token := csrfToken(t, c)
	rr := c.do(http.MethodPost, "/auth/login", url.Values{"email": {"clerk@example.com"}, "password": {"correctpass"}}, http.Header{shared.CSRFHeader: {token}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for _, target := range []string{"/admin/roles/", "/admin/permissions/", "/admin/jobs/health"} {
		rr = c.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusOK, rr.Code, target)
	}

	form := url.Values{rbac.ActionField: {"createRole"}, "name": {"pickers"}, shared.CSRFFormField: {csrfToken(t, c)}}
	rr = c.do(http.MethodPost, "/admin/roles/", form, nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, store.RolesNamed("pickers"))
}

func TestMetricsEndpoint(t *testing.T) {
	c, _, _ := newTestRouter(t)
	c.do(http.MethodGet, "/healthz", nil, nil)
	rr := c.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `wareboxes_http_requests_total{code="200",route="/healthz"} 1`)
}
