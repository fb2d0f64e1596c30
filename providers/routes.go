package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/orchestra-mcp/realtime/src/transport"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/valyala/fasthttp"
)

const verifyTimeout = 5 * time.Second

// Handler serves WebSocket upgrades on the configured path and every
// other request through the fiber app.
func (p *RealtimeProvider) Handler() fasthttp.RequestHandler {
	ws := p.FastHTTPHandler()
	app := p.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == p.cfg.Socket.Path {
			ws(ctx)
			return
		}
		app(ctx)
	}
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Fiber v3 does not expose *fasthttp.RequestCtx to route handlers, so the
// upgrade is served outside the fiber router.
func (p *RealtimeProvider) FastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		// Query args are only valid until the upgrade handler starts.
		params := queryParams(ctx)
		err := p.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			p.serve(conn, params)
		})
		if err != nil {
			p.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

// serve authenticates an upgraded connection and runs its pumps until
// the client goes away.
func (p *RealtimeProvider) serve(ws *websocket.Conn, params map[string]string) {
	conn := transport.NewFastHTTPConn(ws,
		config.Seconds(p.cfg.Socket.WriteTimeout),
		config.Seconds(p.cfg.Socket.PongWait))
	client := transport.NewClient(conn, transport.Options{
		SendBuffer:   p.cfg.Socket.SendBuffer,
		PingInterval: config.Seconds(p.cfg.Socket.PingInterval),
	}, p.logger)

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	id, err := p.service.Connect(ctx, client, params)
	cancel()
	if err != nil {
		reason := "unauthorized"
		var uerr *service.UnauthorizedError
		if errors.As(err, &uerr) {
			reason = uerr.Reason
		}
		_ = conn.CloseWithReason(websocket.ClosePolicyViolation, reason)
		return
	}

	go client.WritePump()
	_ = client.Send(types.Message{
		Type:      "connected",
		Content:   map[string]any{"connection_id": id},
		Timestamp: time.Now().UTC(),
	})
	client.ReadPump(p.handleFrame)
	p.service.Disconnect(id)
}

// handleFrame applies client control frames.
func (p *RealtimeProvider) handleFrame(connectionID string, frame types.Message) error {
	switch frame.Type {
	case "subscribe":
		if frame.Topic == "" {
			return errors.New("topic is required")
		}
		if !p.service.Subscribe(connectionID, frame.Topic) {
			return fmt.Errorf("cannot subscribe to %q", frame.Topic)
		}
		p.service.SendToConnection(connectionID, types.Message{Type: "subscribed", Topic: frame.Topic})
	case "unsubscribe":
		if frame.Topic == "" {
			return errors.New("topic is required")
		}
		p.service.Unsubscribe(connectionID, frame.Topic)
		p.service.SendToConnection(connectionID, types.Message{Type: "unsubscribed", Topic: frame.Topic})
	case "ping":
		p.service.SendToConnection(connectionID, types.Message{Type: "pong"})
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

func queryParams(ctx *fasthttp.RequestCtx) map[string]string {
	params := make(map[string]string)
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})
	return params
}
