package livesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 10 * time.Second
)

// WebSocketDialer opens push connections with gorilla/websocket.
type WebSocketDialer struct {
	URL          string
	Header       http.Header
	Dialer       *websocket.Dialer
	ReadLimit    int64
	WriteTimeout time.Duration
}

// NewWebSocketDialer returns a dialer for url with default limits.
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{
		URL:          url,
		ReadLimit:    defaultReadLimit,
		WriteTimeout: defaultWriteTimeout,
	}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	if d.URL == "" {
		return nil, errors.New("livesync: push url is required")
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("livesync: dial %s: status %d: %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("livesync: dial %s: %w", d.URL, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)
	timeout := d.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &wsConn{ws: ws, writeTimeout: timeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

// Read returns the next text or binary frame. Termination is reported as a
// *CloseError; normal closure and going-away frames count as clean.
func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err == nil {
		return data, nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return nil, &CloseError{
			Clean: closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway,
			Code:  closeErr.Code,
			Err:   err,
		}
	}
	return nil, &CloseError{Code: websocket.CloseAbnormalClosure, Err: err}
}

func (c *wsConn) Write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a normal closure frame and releases the socket once. It does not
// wait for writeMu: WriteControl is safe alongside a pending write, and closing
// the socket unblocks that write.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
