package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/registry"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/orchestra-mcp/realtime/src/topics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPingTimeout = 3 * time.Second

// RealtimeProvider wires the realtime service to its verifier, the
// WebSocket upgrade endpoint and the HTTP admin routes.
type RealtimeProvider struct {
	active   bool
	cfg      *config.Config
	logger   zerolog.Logger
	redis    *redis.Client
	service  *service.Service
	app      *fiber.App
	upgrader websocket.FastHTTPUpgrader
}

// NewRealtimeProvider creates an inactive provider.
func NewRealtimeProvider() *RealtimeProvider { return &RealtimeProvider{} }

func (p *RealtimeProvider) ID() string      { return "orchestra/realtime" }
func (p *RealtimeProvider) Name() string    { return "Realtime" }
func (p *RealtimeProvider) Version() string { return "0.2.0" }
func (p *RealtimeProvider) IsActive() bool  { return p.active }

// Service exposes the realtime service for application code.
func (p *RealtimeProvider) Service() *service.Service { return p.service }

// Activate builds the verifier, registry, topic index and service.
func (p *RealtimeProvider) Activate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	p.cfg = cfg
	p.logger = logger.With().Str("component", "realtime-provider").Logger()

	verifier, err := p.buildVerifier(ctx)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}

	p.service = service.New(registry.New(), topics.New(), verifier, logger)
	p.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:    cfg.Socket.ReadBufferSize,
		WriteBufferSize:   cfg.Socket.WriteBufferSize,
		EnableCompression: cfg.Socket.Compression,
	}
	p.app = fiber.New()
	p.RegisterRoutes(p.app)

	p.active = true
	p.logger.Info().
		Str("provider", p.ID()).
		Str("auth_mode", cfg.Auth.Mode).
		Str("path", cfg.Socket.Path).
		Msg("realtime provider activated")
	return nil
}

// buildVerifier creates the token verifier selected by the auth mode.
func (p *RealtimeProvider) buildVerifier(ctx context.Context) (auth.Verifier, error) {
	switch p.cfg.Auth.Mode {
	case config.AuthModeJWT:
		return auth.NewJWTVerifier(auth.JWTConfig{
			Secret:   []byte(p.cfg.Auth.JWTSecret),
			Issuer:   p.cfg.Auth.JWTIssuer,
			Audience: p.cfg.Auth.JWTAudience,
			Leeway:   config.Seconds(p.cfg.Auth.LeewaySeconds),
		})
	case config.AuthModeSession:
		client := redis.NewClient(&redis.Options{
			Addr:     p.cfg.Redis.Addr,
			Password: p.cfg.Redis.Password,
			DB:       p.cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis %s: %w", p.cfg.Redis.Addr, err)
		}
		p.redis = client
		p.logger.Info().Str("redis_addr", p.cfg.Redis.Addr).Msg("session store connected")
		return auth.NewSessionVerifier(client, p.cfg.Auth.SessionPrefix), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", p.cfg.Auth.Mode)
	}
}

// Deactivate closes every live connection and the session store.
func (p *RealtimeProvider) Deactivate() error {
	if !p.active {
		return nil
	}
	p.active = false

	reg := p.service.Registry()
	for _, conn := range reg.Connections() {
		if _, t, ok := reg.Find(conn.ID); ok {
			if err := t.Close(); err != nil {
				p.logger.Debug().Err(err).Str("connection_id", conn.ID).Msg("close failed")
			}
		}
		p.service.Disconnect(conn.ID)
	}

	var errs []error
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		p.redis = nil
	}
	p.logger.Info().Str("provider", p.ID()).Msg("realtime provider deactivated")
	return errors.Join(errs...)
}
