package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/wareboxes/wareboxes/internal/platform/httpx"
	"github.com/wareboxes/wareboxes/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required
// permissions. Anonymous requests get 401, authenticated ones lacking the
// permission get 403.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := m.currentIdentity(r)
			decision, err := m.Gate.Authorize(r.Context(), id, perms...)
			if err != nil {
				m.logger().Error("rbac require any", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if err := decision.Err(); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

func (m Middleware) currentIdentity(r *http.Request) *Identity {
	if id := IdentityFromContext(r.Context()); id != nil {
		return id
	}
	return IdentityFromSession(shared.SessionFromContext(r.Context()), m.logger())
}

// IdentityFromSession builds the identity recorded at login, or nil.
func IdentityFromSession(sess *shared.Session, logger *slog.Logger) *Identity {
	if sess == nil {
		return nil
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if logger != nil {
			logger.Error("rbac parse user id", slog.String("value", raw))
		}
		return nil
	}
	email := sess.Get(shared.SessionEmailKey)
	if email == "" {
		return nil
	}
	return &Identity{ID: id, Email: email}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
