package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SocketConfig holds WebSocket server configuration.
type SocketConfig struct {
	Path            string `json:"path"`
	PingInterval    int    `json:"ping_interval_seconds"`
	PongWait        int    `json:"pong_wait_seconds"`
	WriteTimeout    int    `json:"write_timeout_seconds"`
	ReadBufferSize  int    `json:"read_buffer_size"`
	WriteBufferSize int    `json:"write_buffer_size"`
	SendBuffer      int    `json:"send_buffer"`
	Compression     bool   `json:"compression"`
}

// AuthConfig selects and configures the token verifier.
type AuthConfig struct {
	Mode          string `json:"mode"` // "jwt" or "session"
	JWTSecret     string `json:"-"`
	JWTIssuer     string `json:"jwt_issuer"`
	JWTAudience   string `json:"jwt_audience"`
	LeewaySeconds int    `json:"leeway_seconds"`
	SessionPrefix string `json:"session_prefix"`
}

// RedisConfig holds connection settings for the session store.
type RedisConfig struct {
	Addr     string // Redis address, default "localhost:6379"
	Password string // Redis password, default ""
	DB       int    // Redis database number, default 0
}

// Config is the complete realtime server configuration.
type Config struct {
	Addr   string `json:"addr"`
	Socket SocketConfig
	Auth   AuthConfig
	Redis  RedisConfig
}

// Verifier modes.
const (
	AuthModeJWT     = "jwt"
	AuthModeSession = "session"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr: ":8080",
		Socket: SocketConfig{
			Path:            "/ws",
			PingInterval:    30,
			PongWait:        60,
			WriteTimeout:    10,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBuffer:      256,
		},
		Auth: AuthConfig{
			Mode:          AuthModeJWT,
			SessionPrefix: "orchestra:session:",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// FromEnv loads configuration from environment variables.
// Falls back to defaults for any missing or malformed values.
func FromEnv() *Config {
	cfg := DefaultConfig()

	str("REALTIME_ADDR", &cfg.Addr)
	str("REALTIME_WS_PATH", &cfg.Socket.Path)
	num("REALTIME_PING_INTERVAL", &cfg.Socket.PingInterval)
	num("REALTIME_PONG_WAIT", &cfg.Socket.PongWait)
	num("REALTIME_WRITE_TIMEOUT", &cfg.Socket.WriteTimeout)
	num("REALTIME_SEND_BUFFER", &cfg.Socket.SendBuffer)
	if v := os.Getenv("REALTIME_COMPRESSION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Socket.Compression = b
		}
	}

	if mode := strings.ToLower(os.Getenv("REALTIME_AUTH_MODE")); mode == AuthModeJWT || mode == AuthModeSession {
		cfg.Auth.Mode = mode
	}
	str("REALTIME_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("REALTIME_JWT_ISSUER", &cfg.Auth.JWTIssuer)
	str("REALTIME_JWT_AUDIENCE", &cfg.Auth.JWTAudience)
	num("REALTIME_JWT_LEEWAY", &cfg.Auth.LeewaySeconds)
	str("REALTIME_SESSION_PREFIX", &cfg.Auth.SessionPrefix)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("REDIS_DB", &cfg.Redis.DB)
	return cfg
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func num(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
