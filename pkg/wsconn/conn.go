package wsconn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps a *websocket.Conn as a transport.Socket: Send/Cork serialize
// writes under one mutex (spec §5 ordering — a head and its binary-content
// frames must land as one write boundary), matching the teacher's
// mutex-protected Session.conn writes.
type Conn struct {
	ws  *websocket.Conn
	cfg Config

	mu     sync.Mutex
	corked bool // true only while running synchronously inside Cork's fn

	pendingBytes atomic.Int64
	closed       atomic.Bool
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	ws.SetReadLimit(cfg.MaxMessageSize)
	c := &Conn{ws: ws, cfg: cfg}
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.mu.Lock()
		defer c.mu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		return ws.WriteMessage(websocket.PongMessage, []byte(data))
	})
	return c
}

// Send implements transport.Socket: one WriteMessage under the connection
// mutex. When called from inside Cork's closure the mutex is already held
// by this same goroutine, so the lock is skipped.
func (c *Conn) Send(msg []byte, isBinary bool) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	if c.corked {
		return c.writeLocked(msg, isBinary)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(msg, isBinary)
}

func (c *Conn) writeLocked(msg []byte, isBinary bool) error {
	c.pendingBytes.Add(int64(len(msg)))
	defer c.pendingBytes.Add(-int64(len(msg)))

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	typ := websocket.TextMessage
	if isBinary {
		typ = websocket.BinaryMessage
	}
	return c.ws.WriteMessage(typ, msg)
}

// Cork holds the write mutex across fn, so the package header and any
// companion binary-content frames it sends via Send are never interleaved
// with another goroutine's write.
func (c *Conn) Cork(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corked = true
	fn()
	c.corked = false
}

// HasLowSendBackpressure approximates socket backpressure via the bytes
// currently queued in an in-flight Send, since gorilla/websocket exposes no
// outbound buffer depth. See DESIGN.md: this is a best-effort stand-in, not
// a true kernel send-buffer reading.
func (c *Conn) HasLowSendBackpressure() bool {
	return c.pendingBytes.Load() < c.cfg.LowBackpressureThresholdBytes
}

// ReadLoop blocks reading frames until the connection errors or closes,
// delivering each to onMessage. Mirrors the teacher's Session.ReadLoop.
func (c *Conn) ReadLoop(onMessage func(msg []byte, isBinary bool), onClose func(err error)) {
	defer c.Close()
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if onClose != nil {
				onClose(err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		onMessage(msg, typ == websocket.BinaryMessage)
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.ws.Close()
}
