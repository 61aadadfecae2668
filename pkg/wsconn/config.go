// Package wsconn adapts a gorilla/websocket connection to the transport
// package's Socket interface: mutex-protected writes, read/write
// deadlines, and a ReadLoop feeding frames into a Transport.
package wsconn

import (
	"net/http"
	"time"
)

// Config holds the tunables for both server-side upgrade and client-side
// dial, mirroring the teacher's SessionConfig timeout/buffer fields.
type Config struct {
	// ReadBufferSize/WriteBufferSize size the underlying gorilla buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// HandshakeTimeout bounds the initial HTTP upgrade/dial.
	HandshakeTimeout time.Duration

	// ReadTimeout is the deadline renewed before every ReadMessage.
	ReadTimeout time.Duration

	// WriteTimeout is the deadline applied to every WriteMessage.
	WriteTimeout time.Duration

	// MaxMessageSize caps an incoming frame; ReadLoop closes the
	// connection if the peer exceeds it.
	MaxMessageSize int64

	// CheckOrigin validates the upgrade request's Origin header.
	// Default: same-origin-or-absent, matching gorilla's own default.
	CheckOrigin func(r *http.Request) bool

	// LowBackpressureThresholdBytes gates HasLowSendBackpressure: once the
	// bytes inside in-flight Send calls reach this many, writers are asked
	// to wait. See DESIGN.md for why this is an in-flight-bytes
	// approximation rather than a true socket-buffer reading.
	LowBackpressureThresholdBytes int64
}

// DefaultConfig returns sane defaults, matching the teacher's
// DefaultSessionConfig scale.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:                4096,
		WriteBufferSize:               4096,
		HandshakeTimeout:              10 * time.Second,
		ReadTimeout:                   60 * time.Second,
		WriteTimeout:                  10 * time.Second,
		MaxMessageSize:                1 << 20,
		LowBackpressureThresholdBytes: 1 << 20,
	}
}
