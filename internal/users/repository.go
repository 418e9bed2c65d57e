package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wareboxes/wareboxes/internal/platform/db"
	"github.com/wareboxes/wareboxes/internal/platform/httpx"
)

var (
	// ErrNotFound indicates a missing user.
	ErrNotFound = fmt.Errorf("users: %w", httpx.ErrNotFound)
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = fmt.Errorf("users: invalid input: %w", httpx.ErrValidation)
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
COALESCE(nick_name, ''), COALESCE(phone, ''), created, deleted`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.NickName, &u.Phone, &u.CreatedAt, &u.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// UserByID fetches a user, deleted or not.
func (r *Repository) UserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM wareboxes.users WHERE id = $1`, id))
}

// UserByEmail fetches a user by email, deleted or not.
func (r *Repository) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM wareboxes.users WHERE email = $1`, email))
}

// InsertUser creates a user unless the email is taken, in which case the
// existing row is returned with created=false.
func (r *Repository) InsertUser(ctx context.Context, email string) (User, bool, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO wareboxes.users (email)
VALUES ($1)
ON CONFLICT (email) DO NOTHING
RETURNING `+userColumns, email))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}
	u, err = r.UserByEmail(ctx, email)
	return u, false, err
}

// ListUsers returns one page of users ordered by id, and the total count.
func (r *Repository) ListUsers(ctx context.Context, showDeleted bool, limit, offset int) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wareboxes.users WHERE ($1 OR deleted IS NULL)`, showDeleted).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM wareboxes.users
WHERE ($1 OR deleted IS NULL)
ORDER BY id
LIMIT $2 OFFSET $3`, showDeleted, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// UpdateProfile applies the non-nil fields of upd.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, upd ProfileUpdate) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `UPDATE wareboxes.users SET
    first_name = COALESCE($2, first_name),
    last_name  = COALESCE($3, last_name),
    nick_name  = COALESCE($4, nick_name),
    phone      = COALESCE($5, phone)
WHERE id = $1
RETURNING `+userColumns, id, upd.FirstName, upd.LastName, upd.NickName, upd.Phone))
}

// SetDeleted sets or clears the deletion mark.
func (r *Repository) SetDeleted(ctx context.Context, id int64, deleted bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE wareboxes.users
SET deleted = CASE WHEN $2 THEN COALESCE(deleted, NOW()) ELSE NULL END
WHERE id = $1`, id, deleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPasswordHash stores a bcrypt hash for the user.
func (r *Repository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE wareboxes.users SET password_hash = $2 WHERE id = $1`, id, hash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

var _ RepositoryPort = (*Repository)(nil)
