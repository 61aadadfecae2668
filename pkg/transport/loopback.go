package transport

import "sync"

// loopbackSocket is the in-memory Socket half of a Loopback pair: Send
// hands the frame straight to the peer Transport's emitMessage, serially,
// per spec §5's "wires two controllers together... so each delivers to the
// other serially".
type loopbackSocket struct {
	mu   sync.Mutex
	peer *Transport
	low  bool
}

func (s *loopbackSocket) Send(msg []byte, isBinary bool) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	// Copy: the sender may reuse/mutate its buffer after Send returns.
	cp := make([]byte, len(msg))
	copy(cp, msg)
	peer.emitMessage(cp, isBinary)
	return nil
}

func (s *loopbackSocket) Cork(fn func()) { fn() }

func (s *loopbackSocket) HasLowSendBackpressure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.low
}

// SetLowBackpressure flips the loopback socket's backpressure predicate,
// for tests exercising the credit/backpressure paths without a real socket.
func (s *loopbackSocket) SetLowBackpressure(low bool) { //nolint:unused // test helper
	s.mu.Lock()
	s.low = low
	s.mu.Unlock()
}

// Loopback wires two Transports together via in-memory sockets and opens
// both, per spec §5's two-peer connect(...) test mode.
func Loopback(makeA, makeB func(socket Socket) *Transport) (a, b *Transport) {
	sa := &loopbackSocket{low: true}
	sb := &loopbackSocket{low: true}
	a = makeA(sa)
	b = makeB(sb)
	sa.peer, sb.peer = b, a
	a.emitConnection()
	b.emitConnection()
	return a, b
}
