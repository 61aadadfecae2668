// Package invokereg assigns monotonic call-ids, holds response promises,
// and applies per-call response timeouts, armed lazily so a timeout never
// races outgoing data still in flight (spec §4.4).
package invokereg

import (
	"context"
	"sync"
	"time"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// MaxSafeCallID is the safe-integer ceiling callId wraps at, mirroring the
// source's JS Number.MAX_SAFE_INTEGER.
const MaxSafeCallID float64 = (1 << 53) - 1

// closer is satisfied by any value.StreamRef that also exposes a closed
// signal; streamengine.Writer implements it without invokereg importing
// streamengine.
type closer interface {
	Closed() <-chan struct{}
}

type result struct {
	data     value.Value
	dataType wire.DataType
	err      error
}

// Call is the handle a caller awaits for an invoke's response.
type Call struct {
	CallID float64
	ch     chan result
}

// Wait blocks until the call resolves, rejects, times out, or ctx is done.
func (c *Call) Wait(ctx context.Context) (value.Value, wire.DataType, error) {
	select {
	case r := <-c.ch:
		return r.data, r.dataType, r.err
	case <-ctx.Done():
		return value.Value{}, 0, ctx.Err()
	}
}

type entry struct {
	call           *Call
	timer          *time.Timer
	timeout        time.Duration
	returnDataType bool
}

// Registry is the pending-invokes map, callId -> entry.
type Registry struct {
	mu              sync.Mutex
	nextID          float64
	pending         map[float64]*entry
	responseTimeout time.Duration
}

// New returns a Registry using defaultTimeout as the effective timeout for
// calls that do not supply a per-call override.
func New(defaultTimeout time.Duration) *Registry {
	return &Registry{pending: make(map[float64]*entry), responseTimeout: defaultTimeout}
}

// PrepareInvoke assigns a callId synchronously and registers a Call for it.
// The response timer is not armed here; call AfterSend once the package has
// been handed to the socket.
func (r *Registry) PrepareInvoke(returnDataType bool, timeoutOverride time.Duration) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextFree(r.nextID)
	timeout := r.responseTimeout
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	}
	call := &Call{CallID: id, ch: make(chan result, 1)}
	r.pending[id] = &entry{call: call, timeout: timeout, returnDataType: returnDataType}
	r.nextID = r.nextFree(id + 1)
	return call
}

// nextFree implements the id-wrap policy: wrap to 0 at the safe-integer
// ceiling, then skip forward over any id still outstanding rather than
// reuse it (Open Question (c), pinned choice — see DESIGN.md).
func (r *Registry) nextFree(start float64) float64 {
	id := start
	if id > MaxSafeCallID {
		id = 0
	}
	for {
		if _, exists := r.pending[id]; !exists {
			return id
		}
		id++
		if id > MaxSafeCallID {
			id = 0
		}
	}
}

// AfterSend applies the lazy-arming policy table: with no embedded streams
// the timer arms immediately; with embedded streams it arms only once every
// one of them has closed.
func (r *Registry) AfterSend(callID float64, streams []value.StreamRef) {
	if len(streams) == 0 {
		r.arm(callID)
		return
	}

	closedChans := make([]<-chan struct{}, 0, len(streams))
	for _, s := range streams {
		if c, ok := s.(closer); ok {
			closedChans = append(closedChans, c.Closed())
		}
	}
	go func() {
		for _, ch := range closedChans {
			<-ch
		}
		r.arm(callID)
	}()
}

func (r *Registry) arm(callID float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[callID]
	if !ok {
		return // already resolved, rejected, timed out, or cancelled
	}
	e.timer = time.AfterFunc(e.timeout, func() { r.fireTimeout(callID) })
}

func (r *Registry) fireTimeout(callID float64) {
	r.mu.Lock()
	e, ok := r.pending[callID]
	if ok {
		delete(r.pending, callID)
	}
	r.mu.Unlock()
	if ok {
		e.call.ch <- result{err: xerrors.NewTimeout(xerrors.TimeoutInvokeResponse)}
	}
}

// Resolve completes a pending call with a successful response. It is a
// no-op if callID is not outstanding (already timed out, cancelled, or a
// duplicate response for an already-completed call).
func (r *Registry) Resolve(callID float64, data value.Value, dataType wire.DataType) {
	r.mu.Lock()
	e, ok := r.pending[callID]
	if ok {
		delete(r.pending, callID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if !e.returnDataType {
		dataType = wire.JSON // caller resolves with data alone; dataType is informational only
	}
	e.call.ch <- result{data: data, dataType: dataType}
}

// Reject completes a pending call with a hydrated error response.
func (r *Registry) Reject(callID float64, err error) {
	r.mu.Lock()
	e, ok := r.pending[callID]
	if ok {
		delete(r.pending, callID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.call.ch <- result{err: err}
}

// CancelAll rejects every outstanding call with err. Called from
// emitBadConnection.
func (r *Registry) CancelAll(err error) {
	r.mu.Lock()
	drained := r.pending
	r.pending = make(map[float64]*entry)
	r.mu.Unlock()

	for _, e := range drained {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.call.ch <- result{err: err}
	}
}

// Len reports the number of outstanding calls, for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
