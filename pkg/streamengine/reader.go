package streamengine

import (
	"sync"

	"github.com/duplexwire/duplexwire/pkg/value"
)

// Chunk is one item delivered to a stream consumer, in sent order.
type Chunk struct {
	Value      value.Value
	HasValue   bool
	IsEnd      bool
	Err        error
	WriterCode *float64 // set when the writer sent WriteStreamClose
}

// Reader is a read-side stream: Created -> Open -> Closed. Chunk decoding
// may be asynchronous (a chunk referencing binary content that has not yet
// arrived), so PushDecode accepts a future (a channel the decode result will
// arrive on) rather than a decoded Chunk directly; a single pump goroutine
// drains these strictly in arrival order, so a later chunk's decode
// finishing first never reorders delivery.
type Reader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	id      float64
	state   ReadState
	queue   []<-chan Chunk
	out     chan Chunk
	closed  bool
	grant   func(delta int64)
	onClose func(id float64)
}

func newReader(id float64, grant func(delta int64), onClose func(float64)) *Reader {
	r := &Reader{
		id:      id,
		state:   ReadCreated,
		out:     make(chan Chunk, 64),
		grant:   grant,
		onClose: onClose,
	}
	r.cond = sync.NewCond(&r.mu)
	go r.pump()
	return r
}

// StreamID satisfies value.StreamRef.
func (r *Reader) StreamID() float64 { return r.id }

// State returns the current read-side state.
func (r *Reader) State() ReadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkOpen transitions Created -> Open once the reader has issued its
// StreamAccept(initialBuffer).
func (r *Reader) MarkOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ReadCreated {
		r.state = ReadOpen
	}
}

// Chunks returns the channel chunks are delivered on, in sent order.
func (r *Reader) Chunks() <-chan Chunk { return r.out }

// PushDecode enqueues a future chunk decode, preserving arrival order
// regardless of when resultCh actually resolves.
func (r *Reader) PushDecode(resultCh <-chan Chunk) {
	r.mu.Lock()
	r.queue = append(r.queue, resultCh)
	r.cond.Signal()
	r.mu.Unlock()
}

// PushNow enqueues an already-decoded chunk (the common case: no embedded
// binary content to await).
func (r *Reader) PushNow(c Chunk) {
	ch := make(chan Chunk, 1)
	ch <- c
	r.PushDecode(ch)
}

func (r *Reader) pump() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 && r.closed {
			r.mu.Unlock()
			close(r.out)
			return
		}
		ch := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		chunk := <-ch
		r.out <- chunk
		if chunk.IsEnd || chunk.Err != nil || chunk.WriterCode != nil {
			r.Close()
		}
	}
}

// Ack tells the reader that size bytes/items of a delivered chunk have been
// consumed, freeing buffer; the reader emits StreamDataPermission(size) via
// grant.
func (r *Reader) Ack(size int64) {
	if r.grant != nil && size > 0 {
		r.grant(size)
	}
}

// HandleWriteStreamClose applies an inbound WriteStreamClose(code): the
// consumer observes it as a terminal Chunk carrying the close code.
func (r *Reader) HandleWriteStreamClose(code float64) {
	r.PushNow(Chunk{WriterCode: &code})
}

// Close marks the reader Closed and stops the pump once its queue drains.
func (r *Reader) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.state = ReadClosed
	r.cond.Signal()
	r.mu.Unlock()
	if r.onClose != nil {
		r.onClose(r.id)
	}
}
