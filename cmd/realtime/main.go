package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/providers"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
)

func main() {
	cfg := config.FromEnv()

	pflag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	pflag.StringVar(&cfg.Socket.Path, "ws-path", cfg.Socket.Path, "WebSocket endpoint path")
	pflag.StringVar(&cfg.Auth.Mode, "auth-mode", cfg.Auth.Mode, "token verifier: jwt or session")
	pflag.IntVar(&cfg.Socket.PingInterval, "ping-interval", cfg.Socket.PingInterval, "seconds between keepalive pings")
	pflag.BoolVar(&cfg.Socket.Compression, "compression", cfg.Socket.Compression, "enable per-message compression")
	pretty := pflag.Bool("pretty", false, "human readable console logs")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	logger := newLogger(*pretty, *level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := providers.NewRealtimeProvider()
	if err := p.Activate(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("activate realtime provider")
	}

	srv := &fasthttp.Server{
		Handler: p.Handler(),
		Name:    "orchestra-realtime",
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("ws_path", cfg.Socket.Path).Msg("listening")
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	if err := p.Deactivate(); err != nil {
		logger.Error().Err(err).Msg("deactivate realtime provider")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func newLogger(pretty bool, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Str("service", "realtime").Logger()
}
