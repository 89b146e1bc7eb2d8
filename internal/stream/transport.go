package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultReadLimit caps a single inbound message. Dense clouds run to a few
// hundred kilobytes.
const DefaultReadLimit = 16 << 20

// Conn is one established frame connection.
type Conn interface {
	// ReadFrame blocks until the next binary frame arrives. Any error ends
	// the connection.
	ReadFrame() ([]byte, error)

	// Close tears the connection down and unblocks ReadFrame.
	Close() error
}

// Dialer opens frame connections. Implementations must honour ctx.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// WebsocketDialer dials websocket servers with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Header           http.Header
}

// NewWebsocketDialer returns a dialer with default timeouts and limits.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		HandshakeTimeout: 5 * time.Second,
		ReadLimit:        DefaultReadLimit,
	}
}

// Dial performs the websocket handshake against url.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

// ReadFrame returns the next binary message. Text messages are skipped.
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
		tracef("ignoring %d-byte non-binary message", len(data))
	}
}

func (c *wsConn) Close() error {
	// Best effort close handshake; the socket is closed regardless.
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
