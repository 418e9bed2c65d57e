package auth_test

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
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wareboxes/wareboxes/internal/auth"
	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/rbac/rbactest"
	"github.com/wareboxes/wareboxes/internal/shared"
	_ "github.com/wareboxes/wareboxes/testing"
)

type stubRepo struct {
	users map[string]*auth.User
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return u, nil
}

type authHarness struct {
	store    *rbactest.Store
	sessions *shared.SessionManager
	router   http.Handler
	cookie   *http.Cookie
}

func newAuthHarness(t *testing.T, repo *stubRepo) *authHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := rbactest.NewStore()
	metrics := rbac.NewMetrics(prometheus.NewRegistry())
	gate := rbac.NewGate(rbac.NewBootstrapper(store, nil, logger, metrics), rbac.NewResolver(store), logger, metrics)

	sessions := shared.NewSessionManager(client, "wb_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	handler := auth.NewHandler(logger, auth.NewService(repo), gate, sessions, csrf)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, req.WithContext(ctx))
			require.NoError(t, sessions.Commit(ctx, w, sess))
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	})
	r.Route("/auth", handler.MountRoutes)
	return &authHarness{store: store, sessions: sessions, router: r}
}

func (h *authHarness) do(t *testing.T, method, target string, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name == h.sessions.CookieName() {
			if c.MaxAge < 0 {
				h.cookie = nil
			} else {
				h.cookie = c
			}
		}
	}
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return rr, body
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{users: map[string]*auth.User{
		"user@example.com": {ID: 1, Email: "user@example.com", PasswordHash: hashed(t, "correctpass")},
	}}
	h := newAuthHarness(t, repo)

	for _, form := range []url.Values{
		{"email": {"user@example.com"}, "password": {"wrongpass"}},
		{"email": {"nobody@example.com"}, "password": {"correctpass"}},
	} {
		rr, body := h.do(t, http.MethodPost, "/auth/login", form)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, []any{"Invalid email or password"}, body["errors"])
	}

	rr, body := h.do(t, http.MethodPost, "/auth/login", url.Values{"email": {"not-an-email"}, "password": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid login data", body["message"])
}

func TestLoginRejectsDeletedUser(t *testing.T) {
	repo := &stubRepo{users: map[string]*auth.User{
		"gone@example.com": {ID: 2, Email: "gone@example.com", PasswordHash: hashed(t, "correctpass"), Deleted: true},
	}}
	h := newAuthHarness(t, repo)

	rr, _ := h.do(t, http.MethodPost, "/auth/login", url.Values{"email": {"gone@example.com"}, "password": {"correctpass"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginBootstrapsAndSignsIn(t *testing.T) {
	repo := &stubRepo{users: map[string]*auth.User{}}
	h := newAuthHarness(t, repo)
	email := "u2@example.com"
	uid := h.store.AddUser(email)
	repo.users[email] = &auth.User{ID: uid, Email: email, PasswordHash: hashed(t, "correctpass")}

	rr, _ := h.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	anonymous := h.cookie

	rr, body := h.do(t, http.MethodPost, "/auth/login", url.Values{"email": {email}, "password": {"correctpass"}})
	require.Equal(t, http.StatusOK, rr.Code, body)
	assert.Equal(t, true, body["success"])
	require.NotNil(t, h.cookie)
	if anonymous != nil {
		assert.NotEqual(t, anonymous.Value, h.cookie.Value, "login rotates the session id")
	}
	assert.Equal(t, 1, h.store.RolesNamed(email))

	rr, body = h.do(t, http.MethodGet, "/auth/me?permission=orders", nil)
	require.Equal(t, http.StatusOK, rr.Code, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, email, data["email"])
	assert.Equal(t, map[string]any{"orders": false}, data["permissions"])

	rr, _ = h.do(t, http.MethodPost, "/auth/logout", url.Values{})
	require.Equal(t, http.StatusOK, rr.Code)
	rr, _ = h.do(t, http.MethodGet, "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCSRFTokenEndpoint(t *testing.T) {
	h := newAuthHarness(t, &stubRepo{})

	rr, body := h.do(t, http.MethodGet, "/auth/csrf", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	token, _ := body["csrfToken"].(string)
	assert.NotEmpty(t, token)

	rr, body = h.do(t, http.MethodGet, "/auth/csrf", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, token, body["csrfToken"], "token is stable within a session")
}
