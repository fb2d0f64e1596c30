package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("transport closed")
	// ErrBufferFull is returned when the send queue has no room left.
	ErrBufferFull = errors.New("send buffer full")
)

// DefaultSendBuffer is the send queue size used when Options leaves it zero.
const DefaultSendBuffer = 256

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Pinger is implemented by connections that can send keepalive pings.
type Pinger interface {
	WritePing() error
}

// FrameHandler handles a frame read from the client. A returned error is
// reported back to the client as an "error" message.
type FrameHandler func(connectionID string, frame types.Message) error

// Options tunes a Client.
type Options struct {
	SendBuffer   int
	PingInterval time.Duration
}

// Client is a types.Transport backed by a WebSocket connection. Sends are
// queued and written by WritePump.
type Client struct {
	id           string
	conn         Conn
	send         chan types.Message
	done         chan struct{}
	closed       bool
	closeOnce    sync.Once
	closeErr     error
	pingInterval time.Duration
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// NewClient creates a client wrapper around conn.
func NewClient(conn Conn, opts Options, logger zerolog.Logger) *Client {
	size := opts.SendBuffer
	if size <= 0 {
		size = DefaultSendBuffer
	}
	return &Client{
		conn:         conn,
		send:         make(chan types.Message, size),
		done:         make(chan struct{}),
		pingInterval: opts.PingInterval,
		logger:       logger,
	}
}

// BindConnection records the connection id assigned at connect time.
func (c *Client) BindConnection(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.logger = c.logger.With().Str("connection_id", id).Logger()
}

// ConnectionID returns the bound connection id.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// IsOpen reports whether the client still accepts messages.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Send queues msg for delivery without blocking.
func (c *Client) Send(msg types.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the pumps and closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump reads frames from the connection and passes them to handle
// until the connection fails or the client is closed.
func (c *Client) ReadPump(handle FrameHandler) {
	defer c.Close()

	for {
		var frame types.Message
		if err := c.conn.ReadJSON(&frame); err != nil {
			if c.IsOpen() {
				c.log().Debug().Err(err).Msg("read ended")
			}
			return
		}
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now().UTC()
		}
		if err := handle(c.ConnectionID(), frame); err != nil {
			_ = c.Send(types.Message{
				Type:      "error",
				Content:   err.Error(),
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// WritePump writes queued messages and keepalive pings to the connection.
func (c *Client) WritePump() {
	defer c.Close()

	var tick <-chan time.Time
	pinger, canPing := c.conn.(Pinger)
	if canPing && c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log().Debug().Err(err).Msg("write failed")
				return
			}
		case <-tick:
			if err := pinger.WritePing(); err != nil {
				c.log().Debug().Err(err).Msg("ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) log() *zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.logger
	return &l
}
