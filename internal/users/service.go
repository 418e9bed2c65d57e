package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/wareboxes/wareboxes/internal/rbac"
	"github.com/wareboxes/wareboxes/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	UserByID(ctx context.Context, id int64) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	InsertUser(ctx context.Context, email string) (User, bool, error)
	ListUsers(ctx context.Context, showDeleted bool, limit, offset int) ([]User, int, error)
	UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (User, error)
	SetDeleted(ctx context.Context, id int64, deleted bool) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
}

// RoleReader is the slice of the role store the user views need.
type RoleReader interface {
	DirectUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
}

// detailConcurrency bounds the per-user lookups of a listing.
const detailConcurrency = 4

// Service handles user business logic.
type Service struct {
	repo      RepositoryPort
	roles     RoleReader
	resolver  *rbac.Resolver
	bootstrap *rbac.Bootstrapper
	logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleReader, resolver *rbac.Resolver, bootstrap *rbac.Bootstrapper, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, resolver: resolver, bootstrap: bootstrap, logger: logger}
}

// EnsureUser returns the user registered under email, creating it when
// absent, and makes sure the user owns a self role.
func (s *Service) EnsureUser(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, fmt.Errorf("%w: Email is required to create a user", ErrInvalidInput)
	}
	user, err := s.repo.UserByEmail(ctx, email)
	created := false
	if errors.Is(err, ErrNotFound) {
		user, created, err = s.repo.InsertUser(ctx, email)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: ensure %s: %w", email, err)
	}
	if created {
		s.logger.Info("user created", slog.Int64("user_id", user.ID), slog.String("email", user.Email))
	}
	if user.Deleted() {
		return user, nil
	}
	if err := s.bootstrap.EnsureSelfRole(ctx, user.ID, user.Email); err != nil {
		return User{}, fmt.Errorf("users: bootstrap self role: %w", err)
	}
	return user, nil
}

// SetPassword hashes password with bcrypt and stores it.
func (s *Service) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("users: hash password: %w", err)
	}
	return s.repo.SetPasswordHash(ctx, id, string(hash))
}

// Get returns a user with roles and permissions.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	user, err := s.repo.UserByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return s.detail(ctx, user)
}

// List returns a page of users with their roles and permissions.
func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	pg := shared.NewPagination(filter.Page, filter.PerPage, 0)
	users, total, err := s.repo.ListUsers(ctx, filter.ShowDeleted, pg.PerPage, pg.Offset())
	if err != nil {
		return Page{}, err
	}
	details := make([]Detail, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i, u := range users {
		g.Go(func() error {
			d, err := s.detail(gctx, u)
			if err != nil {
				return err
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Page{}, err
	}
	return Page{Users: details, Pagination: shared.NewPagination(pg.Page, pg.PerPage, total)}, nil
}

func (s *Service) detail(ctx context.Context, user User) (Detail, error) {
	d := Detail{User: user, Roles: []rbac.Role{}, Permissions: []rbac.Permission{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roles, err := s.roles.DirectUserRoles(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("users: roles of %d: %w", user.ID, err)
		}
		if roles != nil {
			d.Roles = roles
		}
		return nil
	})
	g.Go(func() error {
		perms, err := s.resolver.EffectivePermissions(gctx, user.ID)
		if err != nil {
			return fmt.Errorf("users: permissions of %d: %w", user.ID, err)
		}
		if perms != nil {
			d.Permissions = perms
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Detail{}, err
	}
	return d, nil
}

// Update changes profile fields.
func (s *Service) Update(ctx context.Context, id int64, upd ProfileUpdate) (User, error) {
	if upd.Empty() {
		return User{}, fmt.Errorf("%w: no data to update", ErrInvalidInput)
	}
	return s.repo.UpdateProfile(ctx, id, upd)
}

// Delete soft-deletes a user. Role edges are kept.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.SetDeleted(ctx, id, true)
}

// Restore clears a user's deletion mark.
func (s *Service) Restore(ctx context.Context, id int64) error {
	return s.repo.SetDeleted(ctx, id, false)
}
