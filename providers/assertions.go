package providers

import (
	"github.com/orchestra-mcp/realtime/src/auth"
	"github.com/orchestra-mcp/realtime/src/transport"
	"github.com/orchestra-mcp/realtime/src/types"
)

// Compile-time interface assertions.
var (
	_ types.Transport  = (*transport.Client)(nil)
	_ types.Binder     = (*transport.Client)(nil)
	_ transport.Conn   = (*transport.FastHTTPConn)(nil)
	_ transport.Pinger = (*transport.FastHTTPConn)(nil)
	_ auth.Verifier    = (*auth.JWTVerifier)(nil)
	_ auth.Verifier    = (*auth.SessionVerifier)(nil)
)
