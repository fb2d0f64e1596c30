package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/registry"
	"github.com/orchestra-mcp/realtime/src/topics"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records sent messages in memory.
type fakeTransport struct {
	mu      sync.Mutex
	id      string
	sent    []types.Message
	closed  bool
	sendErr error
}

func (f *fakeTransport) Send(msg types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) ConnectionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeTransport) BindConnection(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = id
}

func (f *fakeTransport) messages() []types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Message(nil), f.sent...)
}

// tokenVerifier accepts a fixed set of tokens.
func tokenVerifier(tokens map[string]auth.Identity) auth.Verifier {
	return auth.VerifierFunc(func(_ context.Context, token string) (auth.Identity, error) {
		id, ok := tokens[token]
		if !ok {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return id, nil
	})
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	verifier := tokenVerifier(map[string]auth.Identity{
		"good":  {UserID: "U", Roles: []string{"user"}},
		"admin": {UserID: "U1", Roles: []string{"admin"}},
		"user":  {UserID: "U2", Roles: []string{"user"}},
		"dupe":  {UserID: "U3", Roles: []string{"user", "user", ""}},
	})
	return New(registry.New(), topics.New(), verifier, zerolog.Nop())
}

func connect(t *testing.T, s *Service, token string) (string, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	id, err := s.Connect(context.Background(), tr, map[string]string{"token": token})
	require.NoError(t, err)
	return id, tr
}

func TestConnectMissingToken(t *testing.T) {
	s := newTestService(t)

	_, err := s.Connect(context.Background(), &fakeTransport{}, map[string]string{})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var uerr *UnauthorizedError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, ReasonMissingToken, uerr.Reason)
	assert.Equal(t, 0, s.ConnectionCount())
}

func TestConnectInvalidToken(t *testing.T) {
	s := newTestService(t)

	_, err := s.Connect(context.Background(), &fakeTransport{}, map[string]string{"token": "bad"})
	require.Error(t, err)

	var uerr *UnauthorizedError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, ReasonInvalidToken, uerr.Reason)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, s.ConnectionCount())
}

func TestConnectSuccess(t *testing.T) {
	s := newTestService(t)
	tr := &fakeTransport{}

	id, err := s.Connect(context.Background(), tr, map[string]string{"token": "good", "device": "phone"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, s.ConnectionCount())
	assert.Equal(t, id, tr.ConnectionID())

	info, ok := s.Connection(id)
	require.True(t, ok)
	assert.Equal(t, "U", info.UserID)
	assert.Equal(t, []string{"user"}, info.Roles)
	assert.Equal(t, map[string]string{"device": "phone"}, info.Metadata)
	assert.False(t, info.CreatedAt.IsZero())

	id2, _ := connect(t, s, "good")
	assert.NotEqual(t, id, id2)
	assert.Equal(t, 2, s.ConnectionCount())
}

func TestConnectDeduplicatesRoles(t *testing.T) {
	s := newTestService(t)
	id, _ := connect(t, s, "dupe")

	info, ok := s.Connection(id)
	require.True(t, ok)
	assert.Equal(t, []string{"user"}, info.Roles)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newTestService(t)
	id, _ := connect(t, s, "good")
	require.True(t, s.Subscribe(id, "news"))

	s.Disconnect(id)
	assert.Equal(t, 0, s.ConnectionCount())
	assert.Empty(t, s.Subscriptions(id))
	assert.Empty(t, s.Subscribers("news"))

	s.Disconnect(id)
	s.Disconnect("never-existed")
	assert.Equal(t, 0, s.ConnectionCount())
}

func TestAddressing(t *testing.T) {
	s := newTestService(t)
	a, ta := connect(t, s, "admin")
	b, tb := connect(t, s, "user")
	msg := types.Message{Type: "notice", Content: "hello"}

	assert.Equal(t, 1, s.SendToRole("admin", msg))
	assert.Len(t, ta.messages(), 1)
	assert.Empty(t, tb.messages())

	assert.Equal(t, 1, s.SendToUser("U2", msg))
	assert.Len(t, ta.messages(), 1)
	assert.Len(t, tb.messages(), 1)

	assert.Equal(t, 2, s.Broadcast(msg))
	assert.Len(t, ta.messages(), 2)
	assert.Len(t, tb.messages(), 2)

	assert.True(t, s.SendToConnection(a, msg))
	assert.True(t, s.SendToConnection(b, msg))
	assert.False(t, s.SendToConnection("ghost", msg))

	assert.Equal(t, 0, s.SendToUser("nobody", msg))
	assert.Equal(t, 0, s.SendToRole("guest", msg))
}

func TestSendToUserMultipleDevices(t *testing.T) {
	s := newTestService(t)
	_, t1 := connect(t, s, "good")
	_, t2 := connect(t, s, "good")

	assert.Equal(t, 2, s.SendToUser("U", types.Message{Type: "x"}))
	assert.Len(t, t1.messages(), 1)
	assert.Len(t, t2.messages(), 1)
}

func TestClosedConnectionIsSkipped(t *testing.T) {
	s := newTestService(t)
	a, ta := connect(t, s, "admin")
	_, tb := connect(t, s, "user")
	require.NoError(t, ta.Close())

	msg := types.Message{Type: "x", Content: "y"}
	assert.False(t, s.SendToConnection(a, msg))
	assert.Empty(t, ta.messages())
	assert.Equal(t, 0, s.SendToUser("U1", msg))
	assert.Equal(t, 0, s.SendToRole("admin", msg))
	assert.Equal(t, 1, s.Broadcast(msg))
	assert.Len(t, tb.messages(), 1)
}

func TestFailedSendIsNotCounted(t *testing.T) {
	s := newTestService(t)
	a, ta := connect(t, s, "admin")
	ta.sendErr = errors.New("buffer full")

	assert.False(t, s.SendToConnection(a, types.Message{Type: "x"}))
	assert.Equal(t, 0, s.Broadcast(types.Message{Type: "x"}))
}

func TestTimestampStamping(t *testing.T) {
	s := newTestService(t)
	a, ta := connect(t, s, "admin")

	require.True(t, s.SendToConnection(a, types.Message{Type: "x", Content: "y"}))
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 123, time.FixedZone("X", 3600))
	require.True(t, s.SendToConnection(a, types.Message{Type: "x", Content: "y", Timestamp: fixed}))

	msgs := ta.messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Timestamp.IsZero())
	assert.True(t, msgs[1].Timestamp.Equal(fixed))
	assert.Equal(t, fixed.Location(), msgs[1].Timestamp.Location())
}

func TestSubscribeAndPublish(t *testing.T) {
	s := newTestService(t)
	a, ta := connect(t, s, "admin")
	b, tb := connect(t, s, "user")

	assert.True(t, s.Subscribe(a, "prices"))
	assert.True(t, s.Subscribe(a, "prices"))
	assert.False(t, s.Subscribe("ghost", "prices"))
	assert.False(t, s.Subscribe(b, ""))

	n := s.PublishToTopic("prices", types.Message{Type: "tick", Content: 42})
	assert.Equal(t, 1, n)
	require.Len(t, ta.messages(), 1)
	assert.Equal(t, "prices", ta.messages()[0].Topic)
	assert.Empty(t, tb.messages())

	s.Unsubscribe(a, "prices")
	assert.Equal(t, 0, s.PublishToTopic("prices", types.Message{Type: "tick"}))
	assert.Equal(t, 0, s.PublishToTopic("unknown", types.Message{Type: "tick"}))
}

func TestUnsubscribeAllKeepsConnection(t *testing.T) {
	s := newTestService(t)
	a, _ := connect(t, s, "admin")
	s.Subscribe(a, "one")
	s.Subscribe(a, "two")

	s.UnsubscribeAll(a)
	assert.Empty(t, s.Subscriptions(a))
	assert.Equal(t, 1, s.ConnectionCount())
}

func TestConnectionHooks(t *testing.T) {
	s := newTestService(t)

	var connected, disconnected []string
	s.OnConnection(func(c types.Connection) { connected = append(connected, c.ID) })
	s.OnDisconnection(func(c types.Connection) { disconnected = append(disconnected, c.ID) })

	id, _ := connect(t, s, "good")
	s.Disconnect(id)
	s.Disconnect(id)

	assert.Equal(t, []string{id}, connected)
	assert.Equal(t, []string{id}, disconnected)
}

func TestStats(t *testing.T) {
	s := newTestService(t)
	a, _ := connect(t, s, "good")
	b, _ := connect(t, s, "good")
	connect(t, s, "admin")
	s.Subscribe(a, "x")
	s.Subscribe(b, "x")
	s.Subscribe(b, "y")

	assert.Equal(t, Stats{Connections: 3, Users: 2, Topics: 2, Subscriptions: 3}, s.Stats())
	assert.Len(t, s.Connections(), 3)
	assert.Equal(t, map[string]int{"x": 2, "y": 1}, s.Topics())
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	const workers, perWorker = 8, 50
	s := newTestService(t)

	var mu sync.Mutex
	var ids []string
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := s.Connect(context.Background(), &fakeTransport{}, map[string]string{"token": "good"})
				if err != nil {
					t.Error(err)
					return
				}
				s.Subscribe(id, fmt.Sprintf("topic-%d", i%5))
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, workers*perWorker, s.ConnectionCount())

	for _, chunk := range [][]string{ids[:len(ids)/2], ids[len(ids)/2:]} {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			for _, id := range chunk {
				s.Disconnect(id)
			}
		}(chunk)
	}
	wg.Wait()
	assert.Equal(t, 0, s.ConnectionCount())
	assert.Equal(t, 0, s.Index().SubscriptionCount())
}
