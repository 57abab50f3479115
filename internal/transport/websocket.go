package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSubprotocol is the WebSocket subprotocol registered for MQTT.
const wsSubprotocol = "mqtt"

// wsCloseTimeout bounds the close handshake.
const wsCloseTimeout = time.Second

func wsDialer(u *url.URL, cfg Config, tlsCfg *tls.Config) dialFunc {
	target := *u
	if target.Path == "" {
		target.Path = "/mqtt"
	}
	addr := target.String()

	return func(ctx context.Context) (conn, error) {
		d := &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
			Subprotocols:     []string{wsSubprotocol},
			TLSClientConfig:  tlsCfg,
		}
		c, resp, err := d.DialContext(ctx, addr, cfg.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close() //nolint:errcheck // Handshake response body is unused
		}
		if err != nil {
			return nil, err
		}
		return &wsConn{conn: c}, nil
	}
}

// wsConn presents a WebSocket as a byte stream. Each Write becomes one
// binary message; reads concatenate message payloads.
type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader

	closeOnce sync.Once
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			msgType, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout)) //nolint:errcheck // Peer may be gone
		err = c.conn.Close()
	})
	return err
}
