package transport

// Socket is the external collaborator spec §1/§6 names: the raw byte-stream
// connection. pkg/wsconn's gorilla/websocket-backed implementation satisfies
// this structurally; so does the in-memory pair Loopback wires together.
type Socket interface {
	// Send transmits one frame, text or binary, best-effort. Implementations
	// may throw/return on a dead connection; the controller swallows Send
	// errors for ping/pong and surfaces them as bad-connection otherwise.
	Send(msg []byte, isBinary bool) error
	// Cork runs fn such that every Send call inside it is flushed as one
	// underlying write, so a package's text head and binary-content frame
	// never interleave with an unrelated send.
	Cork(fn func())
	// HasLowSendBackpressure reports whether it is currently safe to keep
	// writing without unbounded buffering.
	HasLowSendBackpressure() bool
}

// Instrumentation is the optional metrics collaborator. A nil Instrumentation
// on Transport is valid; every call site nil-checks first.
type Instrumentation interface {
	ObserveInvokeLatency(procedure string, seconds float64, ok bool)
	IncBadConnection()
	SetActiveStreams(n int)
	IncInvalidMessage()
}

// Tracer is the optional OpenTelemetry collaborator wrapping Invoke
// round-trips. The returned end func must be called exactly once with the
// call's outcome.
type Tracer interface {
	StartInvoke(procedure string, callID float64) (end func(err error))
}
