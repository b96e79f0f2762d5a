// Package identity wraps the external identity provider that owns
// credentials. The service only ever sees the opaque subject id the
// provider returns.
package identity

import (
	"context"
	"errors"
)

var (
	ErrDuplicateAccount = errors.New("account already exists")
	ErrWeakCredential   = errors.New("credential does not meet policy")
)

// Provider creates a credentialed account and returns its subject id.
// Account creation is not idempotent; callers must not retry on error.
type Provider interface {
	CreateAccount(ctx context.Context, email, password, role string) (string, error)
}
