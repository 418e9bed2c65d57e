package users

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wareboxes/wareboxes/internal/platform/httpx"
	"github.com/wareboxes/wareboxes/internal/rbac"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mutator   *rbac.Mutator
	rbac      rbac.Middleware
	validator *validator.Validate
}

// Action is a POST operation on the user admin surface.
type Action int

const (
	ActionInvalid Action = iota
	ActionCreateUser
	ActionUpdateUser
	ActionDeleteUser
	ActionRestoreUser
	ActionAddUserRole
	ActionDeleteUserRole
)

var actionNames = map[string]Action{
	"createUser":     ActionCreateUser,
	"updateUser":     ActionUpdateUser,
	"deleteUser":     ActionDeleteUser,
	"restoreUser":    ActionRestoreUser,
	"addUserRole":    ActionAddUserRole,
	"deleteUserRole": ActionDeleteUserRole,
}

// ParseAction maps a form value to its Action, or ActionInvalid.
func ParseAction(name string) Action {
	return actionNames[name]
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mutator *rbac.Mutator, authz rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, mutator: mutator, rbac: authz, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(rbac.AdminPermission))
	r.Get("/", h.listUsers)
	r.Get("/{userID}", h.showUser)
	r.Post("/", h.dispatch)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		ShowDeleted: q.Get("show_deleted") == "true",
		Page:        atoi(q.Get("page")),
		PerPage:     atoi(q.Get("per_page")),
	}
	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rbac.Result{Success: true, Data: page})
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, ErrInvalidInput)
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("show user failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rbac.Result{Success: true, Data: detail})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.JSON(w, http.StatusBadRequest, rbac.Result{Message: "Invalid form data"})
		return
	}
	res, err := h.perform(r, ParseAction(r.PostFormValue(rbac.ActionField)))
	rbac.WriteResult(w, h.logger, res, err)
}

func (h *Handler) perform(r *http.Request, action Action) (rbac.Result, error) {
	switch action {
	case ActionCreateUser:
		return h.createUser(r)
	case ActionUpdateUser:
		return h.updateUser(r)
	case ActionDeleteUser:
		return h.deleteUser(r)
	case ActionRestoreUser:
		return h.restoreUser(r)
	case ActionAddUserRole:
		return h.addUserRole(r)
	case ActionDeleteUserRole:
		return h.deleteUserRole(r)
	default:
		return rbac.Result{Message: "Invalid action"}, nil
	}
}

type createForm struct {
	Email string `validate:"required,email"`
}

type updateForm struct {
	UserID    int64   `validate:"gt=0"`
	FirstName *string `validate:"omitempty,max=255"`
	LastName  *string `validate:"omitempty,max=255"`
	NickName  *string `validate:"omitempty,max=255"`
	Phone     *string `validate:"omitempty,max=64"`
}

type userIDForm struct {
	UserID int64 `validate:"gt=0"`
}

type userRoleForm struct {
	UserID int64 `validate:"gt=0"`
	RoleID int64 `validate:"gt=0"`
}

type userRoleEdgeForm struct {
	UserID     int64 `validate:"omitempty,gt=0"`
	RoleID     int64 `validate:"omitempty,gt=0"`
	UserRoleID int64 `validate:"omitempty,gt=0"`
}

func (h *Handler) invalid(err error, message string) rbac.Result {
	return rbac.Result{Message: message, Errors: rbac.ValidationMessages(err)}
}

func (h *Handler) createUser(r *http.Request) (rbac.Result, error) {
	form := createForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	if err := h.validator.Struct(form); err != nil {
		return h.invalid(err, "Invalid user data"), nil
	}
	user, err := h.service.EnsureUser(r.Context(), form.Email)
	if err != nil {
		return rbac.Result{}, err
	}
	return rbac.Result{Success: true, Data: user}, nil
}

func (h *Handler) updateUser(r *http.Request) (rbac.Result, error) {
	form := updateForm{
		UserID:    formInt(r, "userId"),
		FirstName: optionalForm(r, "firstName"),
		LastName:  optionalForm(r, "lastName"),
		NickName:  optionalForm(r, "nickName"),
		Phone:     optionalForm(r, "phone"),
	}
	if err := h.validator.Struct(form); err != nil {
		return h.invalid(err, "Invalid user data"), nil
	}
	user, err := h.service.Update(r.Context(), form.UserID, ProfileUpdate{
		FirstName: form.FirstName,
		LastName:  form.LastName,
		NickName:  form.NickName,
		Phone:     form.Phone,
	})
	if err != nil {
		return rbac.Result{}, err
	}
	return rbac.Result{Success: true, Data: user}, nil
}

func (h *Handler) deleteUser(r *http.Request) (rbac.Result, error) {
	form := userIDForm{UserID: formInt(r, "userId")}
	if err := h.validator.Struct(form); err != nil {
		return h.invalid(err, "Invalid user id"), nil
	}
	if err := h.service.Delete(r.Context(), form.UserID); err != nil {
		return rbac.Result{}, err
	}
	return rbac.Result{Success: true, Data: true}, nil
}

func (h *Handler) restoreUser(r *http.Request) (rbac.Result, error) {
	form := userIDForm{UserID: formInt(r, "userId")}
	if err := h.validator.Struct(form); err != nil {
		return h.invalid(err, "Invalid user id"), nil
	}
	if err := h.service.Restore(r.Context(), form.UserID); err != nil {
		return rbac.Result{}, err
	}
	return rbac.Result{Success: true, Data: true}, nil
}

func (h *Handler) addUserRole(r *http.Request) (rbac.Result, error) {
	form := userRoleForm{UserID: formInt(r, "userId"), RoleID: formInt(r, "roleId")}
	if err := h.validator.Struct(form); err != nil {
		return h.invalid(err, "Invalid user role"), nil
	}
	return h.mutator.AttachRoleToUser(r.Context(), form.UserID, form.RoleID)
}

func (h *Handler) deleteUserRole(r *http.Request) (rbac.Result, error) {
	form := userRoleEdgeForm{
		UserID:     formInt(r, "userId"),
		RoleID:     formInt(r, "roleId"),
		UserRoleID: formInt(r, "userRoleId"),
	}
	if err := h.validator.Struct(form); err != nil {
		return h.invalid(err, "Invalid user role"), nil
	}
	return h.mutator.Apply(r.Context(), rbac.Mutation{
		Kind:       rbac.DetachUserRole,
		UserID:     form.UserID,
		RoleID:     form.RoleID,
		UserRoleID: form.UserRoleID,
	})
}

func formInt(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue(key)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func optionalForm(r *http.Request, key string) *string {
	if _, ok := r.PostForm[key]; !ok {
		return nil
	}
	v := strings.TrimSpace(r.PostFormValue(key))
	return &v
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
