package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned by verifiers when a token is malformed,
// expired, unknown or otherwise rejected.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal behind a token.
type Identity struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

// Verify calls f(ctx, token).
func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
