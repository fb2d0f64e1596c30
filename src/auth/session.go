package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SessionVerifier resolves opaque session tokens stored in Redis. Each
// session lives under prefix+token as a JSON-encoded Identity.
type SessionVerifier struct {
	client redis.Cmdable
	prefix string
}

// NewSessionVerifier creates a verifier reading sessions from client.
func NewSessionVerifier(client redis.Cmdable, prefix string) *SessionVerifier {
	return &SessionVerifier{client: client, prefix: prefix}
}

// Verify looks up the session for token.
func (v *SessionVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	raw, err := v.client.Get(ctx, v.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, fmt.Errorf("%w: unknown session", ErrInvalidToken)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("session lookup: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, fmt.Errorf("%w: corrupt session: %w", ErrInvalidToken, err)
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: session has no user", ErrInvalidToken)
	}
	return id, nil
}
