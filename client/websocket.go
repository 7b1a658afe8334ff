package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

var ErrUnsupportedEndpoint = errors.New("client: unsupported endpoint")

// DialerFor picks the dialer for an endpoint URL: ws:// speaks WebSocket
// text frames, tcp:// speaks the yamux stream protocol.
func DialerFor(endpoint string) (Dialer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEndpoint, err)
	}
	switch u.Scheme {
	case "ws":
		return WebSocketDialer{ReadLimit: MaxFrame}, nil
	case "tcp":
		return YamuxDialer{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedEndpoint, endpoint)
}

type WebSocketDialer struct {
	// ReadLimit caps inbound message size; zero keeps the library default.
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	if d.ReadLimit != 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return wsConn{c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Write(ctx context.Context, msg []byte) error {
	return w.c.Write(ctx, websocket.MessageText, msg)
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := w.c.Read(ctx)
	return msg, err
}

func (w wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "")
	if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
