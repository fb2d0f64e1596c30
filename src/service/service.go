package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/registry"
	"github.com/orchestra-mcp/realtime/src/topics"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// TokenParam is the connect parameter carrying the bearer token.
const TokenParam = "token"

// Stats is a point-in-time summary of the service state.
type Stats struct {
	Connections   int `json:"connections"`
	Users         int `json:"users"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
}

// Service authenticates connections and addresses messages to them by
// connection, user, role, topic or broadcast.
type Service struct {
	registry *registry.Registry
	index    *topics.Index
	verifier auth.Verifier
	logger   zerolog.Logger

	hooksMu   sync.RWMutex
	onConnect []func(types.Connection)
	onDisconn []func(types.Connection)
}

// New creates a service over the given registry and topic index.
func New(reg *registry.Registry, idx *topics.Index, verifier auth.Verifier, logger zerolog.Logger) *Service {
	return &Service{
		registry: reg,
		index:    idx,
		verifier: verifier,
		logger:   logger.With().Str("component", "realtime").Logger(),
	}
}

// Registry returns the underlying connection registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Index returns the underlying topic index.
func (s *Service) Index() *topics.Index { return s.index }

// OnConnection registers a callback run after a connection is registered.
func (s *Service) OnConnection(cb func(types.Connection)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onConnect = append(s.onConnect, cb)
}

// OnDisconnection registers a callback run after a connection is removed.
func (s *Service) OnDisconnection(cb func(types.Connection)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onDisconn = append(s.onDisconn, cb)
}

// Connect authenticates the token in params and registers t under a newly
// generated connection id. Every other param is kept as metadata.
// Authentication failures return *UnauthorizedError and register nothing.
func (s *Service) Connect(ctx context.Context, t types.Transport, params map[string]string) (string, error) {
	token := params[TokenParam]
	if token == "" {
		s.logger.Debug().Msg("connect rejected: missing token")
		return "", &UnauthorizedError{Reason: ReasonMissingToken}
	}

	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("connect rejected: invalid token")
		return "", &UnauthorizedError{Reason: ReasonInvalidToken, Err: err}
	}

	conn := types.Connection{
		ID:        uuid.New().String(),
		UserID:    identity.UserID,
		Roles:     uniqueRoles(identity.Roles),
		Metadata:  metadata(params),
		CreatedAt: time.Now().UTC(),
	}
	if b, ok := t.(types.Binder); ok {
		b.BindConnection(conn.ID)
	}
	s.registry.Register(conn, t)

	s.logger.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Strs("roles", conn.Roles).
		Msg("connection registered")

	s.hooksMu.RLock()
	hooks := s.onConnect
	s.hooksMu.RUnlock()
	for _, cb := range hooks {
		cb(conn)
	}
	return conn.ID, nil
}

// Disconnect removes the connection and all of its topic subscriptions.
// Unknown ids are ignored. The transport is not closed here; it belongs
// to the embedding transport layer.
func (s *Service) Disconnect(connectionID string) {
	conn, removed := s.registry.Unregister(connectionID)
	left := s.index.UnsubscribeAll(connectionID)
	if !removed {
		return
	}

	s.logger.Info().
		Str("connection_id", connectionID).
		Str("user_id", conn.UserID).
		Int("topics_left", len(left)).
		Msg("connection unregistered")

	s.hooksMu.RLock()
	hooks := s.onDisconn
	s.hooksMu.RUnlock()
	for _, cb := range hooks {
		cb(conn)
	}
}

// SendToUser delivers msg to every open connection of userID and returns
// the number of connections it was sent to.
func (s *Service) SendToUser(userID string, msg types.Message) int {
	return s.deliver(s.registry.FindByUser(userID), stamp(msg))
}

// SendToRole delivers msg to every open connection holding role.
func (s *Service) SendToRole(role string, msg types.Message) int {
	return s.deliver(s.registry.FindByRole(role), stamp(msg))
}

// Broadcast delivers msg to every open connection.
func (s *Service) Broadcast(msg types.Message) int {
	return s.deliver(s.registry.AllConnections(), stamp(msg))
}

// SendToConnection delivers msg to a single connection. It returns false
// when the connection is unknown, closed, or the send fails.
func (s *Service) SendToConnection(connectionID string, msg types.Message) bool {
	_, t, ok := s.registry.Find(connectionID)
	if !ok || !t.IsOpen() {
		return false
	}
	return s.deliver([]types.Transport{t}, stamp(msg)) == 1
}

// PublishToTopic delivers msg to every open connection subscribed to topic.
// The message topic is set to topic when empty.
func (s *Service) PublishToTopic(topic string, msg types.Message) int {
	if msg.Topic == "" {
		msg.Topic = topic
	}
	ids := s.index.Subscribers(topic)
	transports := make([]types.Transport, 0, len(ids))
	for _, id := range ids {
		if _, t, ok := s.registry.Find(id); ok {
			transports = append(transports, t)
		}
	}
	return s.deliver(transports, stamp(msg))
}

// Subscribe adds a registered connection to topic. It returns false when
// the connection is unknown or topic is empty.
func (s *Service) Subscribe(connectionID, topic string) bool {
	if topic == "" {
		return false
	}
	if _, ok := s.registry.FindConnection(connectionID); !ok {
		return false
	}
	s.index.Subscribe(connectionID, topic)

	// A concurrent Disconnect may have run between the lookup and the
	// insert; undo so no subscription outlives its connection.
	if _, ok := s.registry.FindConnection(connectionID); !ok {
		s.index.Unsubscribe(connectionID, topic)
		return false
	}
	s.logger.Debug().
		Str("connection_id", connectionID).
		Str("topic", topic).
		Msg("subscribed")
	return true
}

// Unsubscribe removes connectionID from topic. Missing pairs are ignored.
func (s *Service) Unsubscribe(connectionID, topic string) {
	if s.index.Unsubscribe(connectionID, topic) {
		s.logger.Debug().
			Str("connection_id", connectionID).
			Str("topic", topic).
			Msg("unsubscribed")
	}
}

// UnsubscribeAll removes every subscription held by connectionID.
func (s *Service) UnsubscribeAll(connectionID string) {
	s.index.UnsubscribeAll(connectionID)
}

// Subscriptions returns the topics connectionID is subscribed to.
func (s *Service) Subscriptions(connectionID string) []string {
	return s.index.Subscriptions(connectionID)
}

// Subscribers returns the connection ids subscribed to topic.
func (s *Service) Subscribers(topic string) []string {
	return s.index.Subscribers(topic)
}

// Topics returns topic names with their subscriber counts.
func (s *Service) Topics() map[string]int {
	return s.index.Topics()
}

// Connection returns the registered connection with its subscriptions.
func (s *Service) Connection(connectionID string) (types.ConnectionInfo, bool) {
	conn, ok := s.registry.FindConnection(connectionID)
	if !ok {
		return types.ConnectionInfo{}, false
	}
	return types.ConnectionInfo{Connection: conn, Topics: s.index.Subscriptions(connectionID)}, true
}

// Connections returns a snapshot of all registered connections.
func (s *Service) Connections() []types.ConnectionInfo {
	conns := s.registry.Connections()
	out := make([]types.ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, types.ConnectionInfo{Connection: c, Topics: s.index.Subscriptions(c.ID)})
	}
	return out
}

// ConnectionCount returns the number of registered connections.
func (s *Service) ConnectionCount() int {
	return s.registry.ConnectionCount()
}

// Stats returns current counts.
func (s *Service) Stats() Stats {
	return Stats{
		Connections:   s.registry.ConnectionCount(),
		Users:         s.registry.UserCount(),
		Topics:        s.index.TopicCount(),
		Subscriptions: s.index.SubscriptionCount(),
	}
}

// deliver sends msg to each open transport and returns how many accepted it.
// Failed sends are not retried.
func (s *Service) deliver(transports []types.Transport, msg types.Message) int {
	sent := 0
	for _, t := range transports {
		if !t.IsOpen() {
			continue
		}
		if err := t.Send(msg); err != nil {
			s.logger.Debug().
				Err(err).
				Str("connection_id", t.ConnectionID()).
				Msg("send failed")
			continue
		}
		sent++
	}
	return sent
}

// stamp sets the timestamp when the caller did not supply one.
func stamp(msg types.Message) types.Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

func metadata(params map[string]string) map[string]string {
	md := make(map[string]string, len(params))
	for k, v := range params {
		if k == TokenParam {
			continue
		}
		md[k] = v
	}
	return md
}

func uniqueRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok || r == "" {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
