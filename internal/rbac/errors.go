package rbac

import (
	"fmt"
	"strings"

	"github.com/wareboxes/wareboxes/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrConstraint indicates a unique key conflict in the store.
	ErrConstraint = fmt.Errorf("rbac: %w", httpx.ErrDuplicate)
	// ErrUnauthenticated indicates a request without an identity.
	ErrUnauthenticated = fmt.Errorf("rbac: unauthenticated: %w", httpx.ErrUnauthorized)
	// ErrForbidden indicates an identity lacking the required permission.
	ErrForbidden = fmt.Errorf("rbac: %w", httpx.ErrForbidden)
	// ErrInvalidRelationship indicates a rejected role graph edit.
	ErrInvalidRelationship = fmt.Errorf("rbac: invalid relationship: %w", httpx.ErrValidation)
	// ErrSelfRole indicates an administrative edit targeting a self role.
	ErrSelfRole = fmt.Errorf("rbac: self role is immutable: %w", httpx.ErrValidation)
	// ErrInvalidInput indicates missing or malformed arguments.
	ErrInvalidInput = fmt.Errorf("rbac: invalid input: %w", httpx.ErrValidation)
)

// Result is the outcome of an operation whose expected failures are values,
// not errors.
type Result struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`

	cause error
}

func succeeded(data any) Result {
	return Result{Success: true, Data: data}
}

func rejected(cause error, reasons ...string) Result {
	return Result{Errors: reasons, cause: cause}
}

// Err converts a rejected result into an error wrapping its cause.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	cause := r.cause
	if cause == nil {
		cause = ErrInvalidInput
	}
	if len(r.Errors) == 0 {
		return cause
	}
	return fmt.Errorf("%w: %s", cause, strings.Join(r.Errors, "; "))
}
