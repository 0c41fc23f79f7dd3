package internal

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Conn wraps websocket.Conn with timeouts.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// Dial opens a connection. The handshake is bounded by handshakeTimeout when
// it is positive. The response is returned even on failure when the server
// answered the upgrade request.
func Dial(ctx context.Context, rawURL string, header http.Header, handshakeTimeout, writeTimeout time.Duration) (*Conn, *http.Response, error) {
	if handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}
	ws, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, resp, err
	}
	return NewConn(ws, writeTimeout), resp, nil
}

func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout}
}

func (c *Conn) SetReadLimit(n int64) {
	if n > 0 {
		c.ws.SetReadLimit(n)
	}
}

// Read returns the next text or binary frame payload.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}
