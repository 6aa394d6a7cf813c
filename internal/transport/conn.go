package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Close reasons passed to Conn.Close.
const (
	CloseNormal   = websocket.StatusNormalClosure
	CloseAbnormal = websocket.StatusAbnormalClosure
)

// Conn is the minimal connection surface the client needs. The production
// implementation wraps coder/websocket; tests substitute in-memory pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a Conn. The returned error wraps ErrAuthentication when the
// server rejected the credential.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, payload, err := w.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return payload, nil
}

func (w *wsConn) Write(ctx context.Context, payload []byte) error {
	if err := w.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.conn.Close(code, reason)
}

// dialWebsocket is the production dialer.
func dialWebsocket(ctx context.Context, target string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{ //nolint:bodyclose // library owns the handshake body
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}
