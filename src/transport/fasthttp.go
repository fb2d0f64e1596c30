package transport

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

// FastHTTPConn adapts a fasthttp/websocket connection to Conn and Pinger.
// Writes are serialized because the underlying connection supports only
// one concurrent writer.
type FastHTTPConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

// NewFastHTTPConn wraps conn. When pongWait is positive the read deadline
// is extended by pongWait on every pong.
func NewFastHTTPConn(conn *websocket.Conn, writeTimeout, pongWait time.Duration) *FastHTTPConn {
	if pongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	return &FastHTTPConn{conn: conn, writeTimeout: writeTimeout}
}

func (f *FastHTTPConn) WriteJSON(v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.writeTimeout > 0 {
		_ = f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	}
	return f.conn.WriteJSON(v)
}

func (f *FastHTTPConn) ReadJSON(v any) error { return f.conn.ReadJSON(v) }

func (f *FastHTTPConn) Close() error { return f.conn.Close() }

// WritePing sends a ping control frame.
func (f *FastHTTPConn) WritePing() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteControl(websocket.PingMessage, nil, f.deadline())
}

// CloseWithReason sends a close frame with code and reason, then closes.
func (f *FastHTTPConn) CloseWithReason(code int, reason string) error {
	f.writeMu.Lock()
	_ = f.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), f.deadline())
	f.writeMu.Unlock()
	return f.conn.Close()
}

func (f *FastHTTPConn) deadline() time.Time {
	if f.writeTimeout > 0 {
		return time.Now().Add(f.writeTimeout)
	}
	return time.Now().Add(time.Second)
}
