package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DevAdminPermission is the permission granted by the development hook.
const DevAdminPermission = "admin"

// DevAdmin grants the admin permission to a freshly bootstrapped self role.
// It only acts when constructed for the development environment.
type DevAdmin struct {
	store   Store
	enabled bool
	logger  *slog.Logger
}

// NewDevAdmin constructs the development hook. Any environment other than
// "development" yields a hook that does nothing.
func NewDevAdmin(store Store, appEnv string, logger *slog.Logger) *DevAdmin {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevAdmin{store: store, enabled: appEnv == "development", logger: logger}
}

// Enabled reports whether the hook will grant anything.
func (d *DevAdmin) Enabled() bool { return d != nil && d.enabled }

// AfterSelfRole ensures the admin permission exists and is attached to the
// user's self role.
func (d *DevAdmin) AfterSelfRole(ctx context.Context, userID int64, email string, roleID int64) error {
	if !d.Enabled() {
		return nil
	}
	return d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		perm, err := tx.InsertPermissionIfAbsent(ctx, DevAdminPermission, "Admin permission")
		if err != nil {
			return fmt.Errorf("rbac: ensure admin permission: %w", err)
		}
		role, err := tx.RoleByID(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				role, err = tx.RoleByName(ctx, email)
			}
			if err != nil {
				return fmt.Errorf("rbac: load self role: %w", err)
			}
		}
		if !role.IsSelfRole() || role.Name != email {
			return fmt.Errorf("rbac: role %d is not the self role of %s: %w", role.ID, email, ErrSelfRole)
		}
		if err := tx.UpsertRolePermission(ctx, role.ID, perm.ID); err != nil {
			return fmt.Errorf("rbac: grant admin permission: %w", err)
		}
		d.logger.Warn("development admin granted", slog.Int64("user_id", userID), slog.String("email", email))
		return nil
	})
}

var _ SelfRoleHook = (*DevAdmin)(nil)
