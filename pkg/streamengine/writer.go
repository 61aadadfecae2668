package streamengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/duplexwire/duplexwire/pkg/value"
)

// SendFunc transmits one outbound chunk (or the final chunk of an End) for
// streamID. isEnd distinguishes a StreamEnd from a StreamChunk on the wire.
type SendFunc func(streamID float64, chunk value.Value, hasChunk bool, isEnd bool) error

// Writer is a write-side stream: Created -> AwaitingAccept -> Open -> Closed.
// It implements value.StreamRef (StreamID) so it can be embedded directly
// in a Value tree, and the invokereg closer interface (Closed) so the
// invoke registry can await its completion before arming a response timer.
type Writer struct {
	mu           sync.Mutex
	id           float64
	kind         Kind
	state        WriteState
	credit       int64
	creditSignal chan struct{}
	closedCh     chan struct{}
	closeOnce    sync.Once
	closeCode    float64
	send         SendFunc
	waitDrain    func(ctx context.Context) error
	onClose      func(id float64)
}

func newWriter(id float64, kind Kind, send SendFunc, waitDrain func(ctx context.Context) error, onClose func(float64)) *Writer {
	return &Writer{
		id:           id,
		kind:         kind,
		state:        WriteCreated,
		creditSignal: make(chan struct{}),
		closedCh:     make(chan struct{}),
		send:         send,
		waitDrain:    waitDrain,
		onClose:      onClose,
	}
}

// StreamID satisfies value.StreamRef.
func (w *Writer) StreamID() float64 { return w.id }

// Closed satisfies the invokereg closer interface.
func (w *Writer) Closed() <-chan struct{} { return w.closedCh }

// Kind reports whether this is an object or binary stream.
func (w *Writer) Kind() Kind { return w.kind }

// State returns the current write-side state, for tests and diagnostics.
func (w *Writer) State() WriteState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// MarkSent transitions Created -> AwaitingAccept once the stream id
// placeholder referencing this writer has gone out on the wire.
func (w *Writer) MarkSent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WriteCreated {
		w.state = WriteAwaitingAccept
	}
}

// Accept applies a StreamAccept(initialCredit), transitioning to Open.
func (w *Writer) Accept(initialCredit int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WriteAwaitingAccept && w.state != WriteCreated {
		return fmt.Errorf("streamengine: Accept on stream %v in state %s", w.id, w.state)
	}
	w.state = WriteOpen
	w.credit += initialCredit
	w.signalCreditLocked()
	return nil
}

// Grant applies a StreamDataPermission(additionalCredit).
func (w *Writer) Grant(additional int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credit += additional
	w.signalCreditLocked()
}

func (w *Writer) signalCreditLocked() {
	old := w.creditSignal
	w.creditSignal = make(chan struct{})
	close(old)
}

func (w *Writer) waitCredit(ctx context.Context, need int64) error {
	for {
		w.mu.Lock()
		if w.state == WriteClosed {
			w.mu.Unlock()
			return fmt.Errorf("streamengine: write on closed stream %v", w.id)
		}
		if w.credit >= need {
			w.mu.Unlock()
			return nil
		}
		sig := w.creditSignal
		w.mu.Unlock()
		select {
		case <-sig:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Write sends one chunk once sufficient credit is available and the socket
// reports low send backpressure, then decrements credit by size. size is
// bytes for a binary stream, items (conventionally 1) for an object stream.
func (w *Writer) Write(ctx context.Context, chunk value.Value, size int64) error {
	if err := w.waitCredit(ctx, size); err != nil {
		return err
	}
	if w.waitDrain != nil {
		if err := w.waitDrain(ctx); err != nil {
			return err
		}
	}
	w.mu.Lock()
	if w.state != WriteOpen {
		w.mu.Unlock()
		return fmt.Errorf("streamengine: write while stream %v not open (state=%s)", w.id, w.state)
	}
	w.mu.Unlock()

	if err := w.send(w.id, chunk, true, false); err != nil {
		return err
	}
	w.mu.Lock()
	w.credit -= size
	w.mu.Unlock()
	return nil
}

// End sends StreamEnd, optionally carrying a final chunk, and transitions
// to Closed.
func (w *Writer) End(ctx context.Context, finalChunk *value.Value, size int64) error {
	if finalChunk != nil {
		if err := w.waitCredit(ctx, size); err != nil {
			return err
		}
		if w.waitDrain != nil {
			if err := w.waitDrain(ctx); err != nil {
				return err
			}
		}
	}
	w.mu.Lock()
	if w.state == WriteClosed {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	var chunk value.Value
	hasChunk := finalChunk != nil
	if hasChunk {
		chunk = *finalChunk
	}
	if err := w.send(w.id, chunk, hasChunk, true); err != nil {
		return err
	}
	w.closeLocked(CodeEnd)
	return nil
}

// HandleReadStreamClose applies an inbound ReadStreamClose(code), or a
// local abort (code defaults to CodeEnd in that case): the writer stops
// sending and surfaces the close code to anything watching Closed().
func (w *Writer) HandleReadStreamClose(code float64) {
	w.closeLocked(code)
}

func (w *Writer) closeLocked(code float64) {
	w.mu.Lock()
	if w.state == WriteClosed {
		w.mu.Unlock()
		return
	}
	w.state = WriteClosed
	w.closeCode = code
	w.mu.Unlock()

	w.closeOnce.Do(func() { close(w.closedCh) })
	if w.onClose != nil {
		w.onClose(w.id)
	}
}

// CloseCode returns the code the stream closed with, valid once Closed()
// has fired.
func (w *Writer) CloseCode() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCode
}
