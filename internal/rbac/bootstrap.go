package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// SelfRoleHook runs after a self role has been created for a user.
type SelfRoleHook interface {
	AfterSelfRole(ctx context.Context, userID int64, email string, roleID int64) error
}

// SelfRoleHookFunc adapts a function to SelfRoleHook.
type SelfRoleHookFunc func(ctx context.Context, userID int64, email string, roleID int64) error

// AfterSelfRole calls f.
func (f SelfRoleHookFunc) AfterSelfRole(ctx context.Context, userID int64, email string, roleID int64) error {
	return f(ctx, userID, email, roleID)
}

// selfRoleTimeout bounds a shared bootstrap run once it is detached from the
// caller that started it.
const selfRoleTimeout = 10 * time.Second

// Bootstrapper makes sure every identity owns exactly one self role.
type Bootstrapper struct {
	store   Store
	hook    SelfRoleHook
	logger  *slog.Logger
	metrics *Metrics
	group   singleflight.Group
}

// NewBootstrapper constructs a Bootstrapper. hook may be nil.
func NewBootstrapper(store Store, hook SelfRoleHook, logger *slog.Logger, metrics *Metrics) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{store: store, hook: hook, logger: logger, metrics: metrics}
}

// EnsureSelfRole creates and binds the user's self role unless it is already
// directly assigned. It is idempotent and safe to call on every request;
// concurrent calls for one user share a single store round trip. The shared
// run outlives the caller that started it, so one cancelled request never
// fails the others. A user id unknown to the store is ErrUnauthenticated.
func (b *Bootstrapper) EnsureSelfRole(ctx context.Context, userID int64, email string) error {
	email = strings.TrimSpace(email)
	if userID <= 0 || email == "" {
		return ErrUnauthenticated
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := b.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), selfRoleTimeout)
		defer cancel()
		return nil, b.ensure(runCtx, userID, email)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (b *Bootstrapper) ensure(ctx context.Context, userID int64, email string) error {
	has, err := hasSelfRole(ctx, b.store, userID, email)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	var (
		role    Role
		created bool
	)
	err = b.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		has, err := hasSelfRole(ctx, tx, userID, email)
		if err != nil || has {
			return err
		}
		role, created, err = tx.InsertRoleIfAbsent(ctx, email, SelfRoleDescription)
		if err != nil {
			return fmt.Errorf("rbac: insert self role: %w", err)
		}
		if !role.IsSelfRole() {
			return fmt.Errorf("rbac: role name %q is taken by a shared role: %w", email, ErrConstraint)
		}
		if role.Deleted() {
			if err := tx.SetRoleDeleted(ctx, role.ID, false); err != nil {
				return fmt.Errorf("rbac: restore self role: %w", err)
			}
		}
		if _, err := tx.UpsertUserRole(ctx, userID, role.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("rbac: user %d is gone: %w", userID, ErrUnauthenticated)
			}
			return fmt.Errorf("rbac: bind self role: %w", err)
		}
		return nil
	})
	if err != nil {
		b.metrics.observeBootstrap("error")
		return err
	}
	if role.ID == 0 {
		b.metrics.observeBootstrap("existing")
		return nil
	}

	outcome := "rebound"
	if created {
		outcome = "created"
	}
	b.metrics.observeBootstrap(outcome)
	b.logger.Info("self role bound", slog.Int64("user_id", userID), slog.Int64("role_id", role.ID), slog.Bool("created", created))

	if b.hook != nil {
		if err := b.hook.AfterSelfRole(ctx, userID, email, role.ID); err != nil {
			b.logger.Warn("self role hook", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return nil
}

func hasSelfRole(ctx context.Context, r Reader, userID int64, email string) (bool, error) {
	roles, err := r.DirectUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.IsSelfRole() && role.Name == email {
			return true, nil
		}
	}
	return false, nil
}
