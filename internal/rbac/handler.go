package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wareboxes/wareboxes/internal/platform/httpx"
)

// AdminPermission guards every administrative route.
const AdminPermission = "admin"

// ActionField names the form field that selects a POST action.
const ActionField = "_action"

// Handler exposes role and permission administration over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mutator   *Mutator
	rbac      Middleware
	validator *validator.Validate
}

// Action is a POST operation on the admin surface, selected by ActionField.
type Action int

const (
	ActionInvalid Action = iota
	ActionCreateRole
	ActionUpdateRole
	ActionDeleteRole
	ActionRestoreRole
	ActionAddChildRole
	ActionDeleteChildRole
	ActionAddRolePermission
	ActionDeleteRolePermission
	ActionCreatePermission
	ActionDeletePermission
	ActionRestorePermission
)

var actionNames = map[Action]string{
	ActionCreateRole:           "createRole",
	ActionUpdateRole:           "updateRole",
	ActionDeleteRole:           "roleDelete",
	ActionRestoreRole:          "roleRestore",
	ActionAddChildRole:         "addChildRole",
	ActionDeleteChildRole:      "deleteChildRole",
	ActionAddRolePermission:    "addRolePermission",
	ActionDeleteRolePermission: "deleteRolePermission",
	ActionCreatePermission:     "createPermission",
	ActionDeletePermission:     "permissionDelete",
	ActionRestorePermission:    "permissionRestore",
}

func (a Action) String() string { return actionNames[a] }

// ParseAction maps a form value to its Action, or ActionInvalid.
func ParseAction(name string) Action {
	for a, n := range actionNames {
		if n == name {
			return a
		}
	}
	return ActionInvalid
}

func (a Action) forRoles() bool {
	return a >= ActionCreateRole && a <= ActionDeleteRolePermission
}

func (a Action) forPermissions() bool {
	return a >= ActionCreatePermission && a <= ActionRestorePermission
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, mutator *Mutator, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		mutator:   mutator,
		rbac:      rbac,
		validator: validator.New(),
	}
}

// MountRoutes registers the role and permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(AdminPermission))
		r.Get("/", h.listRoles)
		r.Get("/{roleID}", h.showRole)
		r.Get("/{roleID}/candidates", h.childCandidates)
		r.Post("/", h.dispatch(Action.forRoles))
	})
	r.Route("/permissions", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(AdminPermission))
		r.Get("/", h.listPermissions)
		r.Post("/", h.dispatch(Action.forPermissions))
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	filter := RoleFilter{
		ShowDeleted:   queryBool(r, "show_deleted"),
		ShowSelfRoles: queryBool(r, "show_self"),
	}
	roles, err := h.service.ListRoles(r.Context(), filter)
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, succeeded(roles))
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role id", ErrInvalidInput))
		return
	}
	detail, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "show role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, succeeded(detail))
}

func (h *Handler) childCandidates(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid role id", ErrInvalidInput))
		return
	}
	roles, err := h.service.ChildCandidates(r.Context(), id)
	if err != nil {
		h.fail(w, "child candidates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, succeeded(nonNil(roles)))
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context(), queryBool(r, "show_deleted"))
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, succeeded(perms))
}

// dispatch routes a form POST to the action named by ActionField. Actions
// outside the route's group are rejected.
func (h *Handler) dispatch(allowed func(Action) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			httpx.JSON(w, http.StatusBadRequest, Result{Message: "Invalid form data"})
			return
		}
		action := ParseAction(r.PostFormValue(ActionField))
		if !allowed(action) {
			httpx.JSON(w, http.StatusBadRequest, Result{Message: "Invalid action"})
			return
		}
		res, err := h.perform(r, action)
		WriteResult(w, h.logger, res, err)
	}
}

func (h *Handler) perform(r *http.Request, action Action) (Result, error) {
	switch action {
	case ActionCreateRole:
		return h.createRole(r)
	case ActionUpdateRole:
		return h.updateRole(r)
	case ActionDeleteRole:
		return h.deleteRole(r)
	case ActionRestoreRole:
		return h.restoreRole(r)
	case ActionAddChildRole:
		return h.addChildRole(r)
	case ActionDeleteChildRole:
		return h.deleteChildRole(r)
	case ActionAddRolePermission:
		return h.addRolePermission(r)
	case ActionDeleteRolePermission:
		return h.deleteRolePermission(r)
	case ActionCreatePermission:
		return h.createPermission(r)
	case ActionDeletePermission:
		return h.deletePermission(r)
	case ActionRestorePermission:
		return h.restorePermission(r)
	default:
		return Result{Message: "Invalid action"}, nil
	}
}

// WriteResult renders an action outcome. Rejections carry the status of
// their cause; store failures become a 500 problem.
func WriteResult(w http.ResponseWriter, logger *slog.Logger, res Result, err error) {
	if err != nil {
		if status := httpx.StatusFor(err); status != http.StatusInternalServerError {
			httpx.JSON(w, status, Result{Errors: []string{err.Error()}})
			return
		}
		if logger != nil {
			logger.Error("rbac action", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if !res.Success {
		httpx.JSON(w, httpx.StatusFor(res.Err()), res)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type roleForm struct {
	Name        string `validate:"required,max=255"`
	Description string `validate:"max=255"`
}

type roleUpdateForm struct {
	RoleID      int64   `validate:"gt=0"`
	Name        *string `validate:"omitempty,max=255"`
	Description *string `validate:"omitempty,max=255"`
}

type roleIDForm struct {
	RoleID int64 `validate:"gt=0"`
}

type childRoleForm struct {
	RoleID      int64 `validate:"gt=0"`
	ChildRoleID int64 `validate:"gt=0"`
}

type rolePermissionForm struct {
	RoleID       int64 `validate:"gt=0"`
	PermissionID int64 `validate:"gt=0"`
}

type permissionForm struct {
	Name        string `validate:"required,max=255"`
	Description string `validate:"max=255"`
}

type permissionIDForm struct {
	PermissionID int64 `validate:"gt=0"`
}

func (h *Handler) createRole(r *http.Request) (Result, error) {
	form := roleForm{Name: r.PostFormValue("name"), Description: r.PostFormValue("description")}
	if res, ok := h.validate(form, "Invalid role data"); !ok {
		return res, nil
	}
	role, err := h.service.CreateRole(r.Context(), form.Name, form.Description)
	if err != nil {
		return Result{}, err
	}
	return succeeded(role), nil
}

func (h *Handler) updateRole(r *http.Request) (Result, error) {
	form := roleUpdateForm{
		RoleID:      formInt(r, "roleId"),
		Name:        optionalForm(r, "name"),
		Description: optionalForm(r, "description"),
	}
	if res, ok := h.validate(form, "Invalid role data"); !ok {
		return res, nil
	}
	role, err := h.service.UpdateRole(r.Context(), form.RoleID, RoleUpdate{Name: form.Name, Description: form.Description})
	if err != nil {
		return Result{}, err
	}
	return succeeded(role), nil
}

func (h *Handler) deleteRole(r *http.Request) (Result, error) {
	form := roleIDForm{RoleID: formInt(r, "roleId")}
	if res, ok := h.validate(form, "Invalid role id"); !ok {
		return res, nil
	}
	if err := h.service.DeleteRole(r.Context(), form.RoleID); err != nil {
		return Result{}, err
	}
	return succeeded(true), nil
}

func (h *Handler) restoreRole(r *http.Request) (Result, error) {
	form := roleIDForm{RoleID: formInt(r, "roleId")}
	if res, ok := h.validate(form, "Invalid role id"); !ok {
		return res, nil
	}
	if err := h.service.RestoreRole(r.Context(), form.RoleID); err != nil {
		return Result{}, err
	}
	return succeeded(true), nil
}

func (h *Handler) addChildRole(r *http.Request) (Result, error) {
	form := childRoleForm{RoleID: formInt(r, "roleId"), ChildRoleID: formInt(r, "childRoleId")}
	if res, ok := h.validate(form, "Invalid role id"); !ok {
		return res, nil
	}
	return h.mutator.AttachChildRole(r.Context(), form.RoleID, form.ChildRoleID)
}

func (h *Handler) deleteChildRole(r *http.Request) (Result, error) {
	form := childRoleForm{RoleID: formInt(r, "roleId"), ChildRoleID: formInt(r, "childRoleId")}
	if res, ok := h.validate(form, "Invalid role id"); !ok {
		return res, nil
	}
	return h.mutator.DetachChildRole(r.Context(), form.RoleID, form.ChildRoleID)
}

func (h *Handler) addRolePermission(r *http.Request) (Result, error) {
	form := rolePermissionForm{RoleID: formInt(r, "roleId"), PermissionID: formInt(r, "permissionId")}
	if res, ok := h.validate(form, "Invalid role permission"); !ok {
		return res, nil
	}
	return h.mutator.AttachPermissionToRole(r.Context(), form.RoleID, form.PermissionID)
}

func (h *Handler) deleteRolePermission(r *http.Request) (Result, error) {
	form := rolePermissionForm{RoleID: formInt(r, "roleId"), PermissionID: formInt(r, "permissionId")}
	if res, ok := h.validate(form, "Invalid role permission"); !ok {
		return res, nil
	}
	return h.mutator.DetachPermissionFromRole(r.Context(), form.RoleID, form.PermissionID)
}

func (h *Handler) createPermission(r *http.Request) (Result, error) {
	form := permissionForm{Name: r.PostFormValue("name"), Description: r.PostFormValue("description")}
	if res, ok := h.validate(form, "Invalid permission data"); !ok {
		return res, nil
	}
	perm, err := h.service.CreatePermission(r.Context(), form.Name, form.Description)
	if err != nil {
		return Result{}, err
	}
	return succeeded(perm), nil
}

func (h *Handler) deletePermission(r *http.Request) (Result, error) {
	form := permissionIDForm{PermissionID: formInt(r, "permissionId")}
	if res, ok := h.validate(form, "Invalid permission id"); !ok {
		return res, nil
	}
	if err := h.service.DeletePermission(r.Context(), form.PermissionID); err != nil {
		return Result{}, err
	}
	return succeeded(true), nil
}

func (h *Handler) restorePermission(r *http.Request) (Result, error) {
	form := permissionIDForm{PermissionID: formInt(r, "permissionId")}
	if res, ok := h.validate(form, "Invalid permission id"); !ok {
		return res, nil
	}
	if err := h.service.RestorePermission(r.Context(), form.PermissionID); err != nil {
		return Result{}, err
	}
	return succeeded(true), nil
}

func (h *Handler) validate(form any, message string) (Result, bool) {
	if err := h.validator.Struct(form); err != nil {
		res := rejected(ErrInvalidInput, ValidationMessages(err)...)
		res.Message = message
		return res, false
	}
	return Result{}, true
}

// ValidationMessages flattens validator errors into one message per field.
func ValidationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gt":
			msgs = append(msgs, "Invalid "+fe.Field())
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return msgs
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
	v := r.PostFormValue(key)
	return &v
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
