package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mycelian/vendor-presence/internal/credential"
	perrors "github.com/mycelian/vendor-presence/internal/errors"
)

const writeWait = 10 * time.Second

// Conn abstracts one live duplex connection. Each call moves one whole frame.
type Conn interface {
	// ReadMessage blocks for the next frame; returns an error once closed.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens socket connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket and authenticates the upgrade
// request with the stored credential.
type WebSocketDialer struct {
	creds  credential.Store
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns a dialer using a 10s handshake timeout.
func NewWebSocketDialer(creds credential.Store) *WebSocketDialer {
	return &WebSocketDialer{
		creds: creds,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial fails fast with ErrUnauthenticated when no credential is stored.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	token, err := bearerToken(ctx, d.creds, "socket dial")
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, perrors.ClassifyHTTPError(resp.StatusCode, "", fmt.Errorf("socket dial %s: %w", url, err))
		}
		return nil, perrors.NewNetworkError("socket dial", err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex // gorilla allows one concurrent writer
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
