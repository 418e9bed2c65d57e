package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "wareboxes_session", "session-secret", time.Hour, false), mr
}

func commitAndCookie(t *testing.T, sm *SessionManager, sess *Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sm.SignIn(sess, 42, "ada@example.com")
	cookie := commitAndCookie(t, sm, sess)
	assert.True(t, mr.Exists("session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "42", loaded.User())
	assert.Equal(t, "ada@example.com", loaded.Get(SessionEmailKey))
}

func TestSessionRejectsTamperedCookie(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sm.SignIn(sess, 7, "eve@example.com")
	commitAndCookie(t, sm, sess)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID + ".forged"})
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.User())
}

func TestSignInRotatesSessionID(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("theme", "dark")
	cookie := commitAndCookie(t, sm, sess)
	anonymousID := sess.ID

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sm.SignIn(loaded, 3, "bob@example.com")
	commitAndCookie(t, sm, loaded)

	assert.NotEqual(t, anonymousID, loaded.ID)
	assert.False(t, mr.Exists("session:"+anonymousID))
	assert.True(t, mr.Exists("session:"+loaded.ID))
	assert.Equal(t, "dark", loaded.Get("theme"))
}

func TestDestroyClearsCookie(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	commitAndCookie(t, sm, sess)

	sm.Destroy(sess)
	cookie := commitAndCookie(t, sm, sess)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.False(t, mr.Exists("session:"+sess.ID))
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	csrf := NewCSRFManager("csrf-secret")
	a := &Session{ID: "a"}
	b := &Session{ID: "b"}

	token, err := csrf.EnsureToken(a)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(a)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	require.NoError(t, csrf.VerifyToken(a, token))

	b.Set(CSRFSessionKey, token)
	assert.ErrorIs(t, csrf.VerifyToken(b, token), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(a, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(nil, token), ErrCSRFTokenMissing)

	_, err = csrf.EnsureToken(nil)
	assert.ErrorIs(t, err, ErrSessionMissing)
}
