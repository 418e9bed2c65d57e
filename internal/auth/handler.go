package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wareboxes/wareboxes/internal/platform/httpx"
	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	gate           *rbac.Gate
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate *rbac.Gate, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		gate:           gate,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.me)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type meResponse struct {
	rbac.Identity
	Permissions map[string]bool `json:"permissions"`
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.JSON(w, http.StatusBadRequest, rbac.Result{Message: "Invalid form data"})
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, shared.ErrSessionMissing)
		return
	}

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.JSON(w, http.StatusBadRequest, rbac.Result{Message: "Invalid login data", Errors: rbac.ValidationMessages(err)})
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.JSON(w, http.StatusUnauthorized, rbac.Result{Errors: []string{"Invalid email or password"}})
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	identity := &rbac.Identity{ID: user.ID, Email: user.Email}
	if _, err := h.gate.Authorize(r.Context(), identity); err != nil {
		h.logger.Error("bootstrap on login", slog.Int64("user_id", user.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.sessionManager.SignIn(sess, user.ID, user.Email)
	if _, err := h.csrfManager.EnsureToken(sess); err != nil {
		h.logger.Warn("rotate csrf token", slog.Any("error", err))
	}
	h.logger.Info("user signed in", slog.Int64("user_id", user.ID))
	httpx.JSON(w, http.StatusOK, rbac.Result{Success: true, Data: identity})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	httpx.JSON(w, http.StatusOK, rbac.Result{Success: true})
}

// me reports the signed-in identity and, for every ?permission= given,
// whether the identity holds it.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity := rbac.IdentityFromSession(shared.SessionFromContext(r.Context()), h.logger)
	decision, err := h.gate.Authorize(r.Context(), identity)
	if err != nil {
		h.logger.Error("authorize me", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if err := decision.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := h.gate.PermissionStatus(r.Context(), identity, r.URL.Query()["permission"]...)
	if err != nil {
		h.logger.Error("permission status", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rbac.Result{Success: true, Data: meResponse{Identity: *identity, Permissions: status}})
}
