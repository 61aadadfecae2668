package wsconn

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Dial opens a client-side WebSocket connection and wraps it as a Conn.
func Dial(ctx context.Context, url string, header http.Header, cfg Config) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return newConn(ws, cfg), nil
}
