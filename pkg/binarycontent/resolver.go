// Package binarycontent correlates a text packet referencing a
// binary-content id with the out-of-band binary frame carrying the blobs it
// points to, timing out if the frame never arrives (spec §4.3).
package binarycontent

import (
	"fmt"
	"sync"
	"time"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// Callback receives the resolved blobs, or a non-nil err on timeout or
// bad-connection cancellation.
type Callback func(blobs [][]byte, err error)

type pending struct {
	blobs    [][]byte
	timer    *time.Timer
	callback Callback
}

// Resolver holds the id -> {callback, timer} map. All exported methods are
// safe for concurrent use; callbacks run on whatever goroutine delivers the
// resolution (timer fire or Feed caller).
type Resolver struct {
	mu      sync.Mutex
	pending map[float64]*pending
	timeout time.Duration
}

// New returns a Resolver that times out unresolved ids after timeout.
func New(timeout time.Duration) *Resolver {
	return &Resolver{pending: make(map[float64]*pending), timeout: timeout}
}

// Register arms a resolver for id. Registering a second resolver for an id
// already outstanding is a fatal protocol error (invariant violated).
func (r *Resolver) Register(id float64, cb Callback) error {
	r.mu.Lock()
	if _, exists := r.pending[id]; exists {
		r.mu.Unlock()
		return wire.ErrDuplicateResolver
	}
	p := &pending{callback: cb}
	p.timer = time.AfterFunc(r.timeout, func() { r.fireTimeout(id) })
	r.pending[id] = p
	r.mu.Unlock()
	return nil
}

func (r *Resolver) fireTimeout(id float64) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		p.callback(nil, xerrors.NewTimeout(xerrors.TimeoutBinaryResolve))
	}
}

// Feed applies an inbound BinaryContentFrame to its resolver. Per the
// buffered semantics resolving Open Question (a), a continued frame's blobs
// accumulate without firing the callback; the callback fires exactly once,
// on the frame that carries no continuation sentinel.
func (r *Resolver) Feed(f wire.BinaryContentFrame) error {
	r.mu.Lock()
	p, ok := r.pending[f.ID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("binarycontent: no resolver registered for id %v: %w", f.ID, wire.ErrInvalidMessage)
	}
	p.blobs = append(p.blobs, f.Blobs...)
	if f.Continued {
		r.mu.Unlock()
		return nil
	}
	delete(r.pending, f.ID)
	r.mu.Unlock()

	p.timer.Stop()
	p.callback(p.blobs, nil)
	return nil
}

// CancelAll fires every outstanding resolver's callback with err and clears
// the map. Called from emitBadConnection.
func (r *Resolver) CancelAll(err error) {
	r.mu.Lock()
	drained := r.pending
	r.pending = make(map[float64]*pending)
	r.mu.Unlock()

	for _, p := range drained {
		p.timer.Stop()
		p.callback(nil, err)
	}
}

// Len reports the number of outstanding resolvers, for tests and metrics.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
