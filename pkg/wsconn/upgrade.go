package wsconn

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Upgrade promotes an inbound HTTP request to a WebSocket connection and
// wraps it as a Conn, matching the teacher's Server.upgrader construction.
func Upgrade(w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      cfg.CheckOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws, cfg), nil
}
