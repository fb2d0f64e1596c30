package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionVerifier(t *testing.T) (*SessionVerifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionVerifier(client, "orchestra:session:"), mr
}

func TestSessionVerifierResolvesIdentity(t *testing.T) {
	v, mr := newSessionVerifier(t)
	require.NoError(t, mr.Set("orchestra:session:abc", `{"user_id":"u1","email":"u1@example.com","roles":["user"]}`))

	id, err := v.Verify(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Email: "u1@example.com", Roles: []string{"user"}}, id)
}

func TestSessionVerifierUnknownToken(t *testing.T) {
	v, _ := newSessionVerifier(t)
	_, err := v.Verify(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionVerifierCorruptSession(t *testing.T) {
	v, mr := newSessionVerifier(t)
	require.NoError(t, mr.Set("orchestra:session:bad", "{not json"))
	require.NoError(t, mr.Set("orchestra:session:anon", `{"roles":["user"]}`))

	_, err := v.Verify(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "anon")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionVerifierRedisDown(t *testing.T) {
	v, mr := newSessionVerifier(t)
	mr.Close()

	_, err := v.Verify(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}
