package identity

import (
	"fmt"
	"time"
)

// Identity represents an authenticated principal.
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthError wraps a sign-in/sign-up/sign-out failure with a human-readable
// operation tag. It is retryable and never fatal to the request.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("identity: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
