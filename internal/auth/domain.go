package auth

import (
	"fmt"

	"github.com/wareboxes/wareboxes/internal/platform/httpx"
)

// ErrInvalidCredentials indicates a failed login.
var ErrInvalidCredentials = fmt.Errorf("auth: invalid credentials: %w", httpx.ErrUnauthorized)

// User is the slice of a user account the login flow needs.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Deleted      bool
}
