package streamengine

import (
	"context"
	"sync"
)

// Backpressure is the subset of the socket collaborator the stream engine
// needs: whether it is currently safe to keep writing.
type Backpressure interface {
	HasLowSendBackpressure() bool
}

// Engine owns both per-side stream maps and the id allocators for object
// (positive) and binary (negative) streams, plus the shared
// socket-backpressure waiter queue every Writer.Write call consults.
type Engine struct {
	mu                      sync.Mutex
	nextObjectID            float64
	nextBinaryID            float64
	writers                 map[float64]*Writer
	readers                 map[float64]*Reader
	backpressure            Backpressure
	waiters                 []chan struct{}
	chunksCanContainStreams bool
}

// New returns an Engine. bp may be nil, in which case backpressure is
// always considered clear (used by the loopback test harness).
func New(bp Backpressure, chunksCanContainStreams bool) *Engine {
	return &Engine{
		nextObjectID:            1,
		nextBinaryID:            -1,
		writers:                 make(map[float64]*Writer),
		readers:                 make(map[float64]*Reader),
		backpressure:            bp,
		chunksCanContainStreams: chunksCanContainStreams,
	}
}

// ChunksCanContainStreams reports the configured policy gate (spec §4.5).
func (e *Engine) ChunksCanContainStreams() bool { return e.chunksCanContainStreams }

// NewWriter allocates a stream id of the given kind and registers a Writer
// for it, Created state, ready to be embedded in a Value and sent.
func (e *Engine) NewWriter(kind Kind, send SendFunc) *Writer {
	e.mu.Lock()
	var id float64
	if kind == KindObject {
		id = e.nextObjectID
		e.nextObjectID = e.nextFreeObjectID(id + 1)
	} else {
		id = e.nextBinaryID
		e.nextBinaryID = e.nextFreeBinaryID(id - 1)
	}
	w := newWriter(id, kind, send, e.waitForBackpressureClear, e.removeWriter)
	e.writers[id] = w
	e.mu.Unlock()
	return w
}

// nextFreeObjectID wraps a positive id back to 1 at the safe-integer
// ceiling, skipping any id still outstanding (same policy as invokereg).
func (e *Engine) nextFreeObjectID(start float64) float64 {
	id := start
	if id > MaxSafeStreamID {
		id = 1
	}
	for {
		if _, exists := e.writers[id]; !exists {
			return id
		}
		id++
		if id > MaxSafeStreamID {
			id = 1
		}
	}
}

// nextFreeBinaryID mirrors nextFreeObjectID at the negative safe-integer floor.
func (e *Engine) nextFreeBinaryID(start float64) float64 {
	id := start
	if id < -MaxSafeStreamID {
		id = -1
	}
	for {
		if _, exists := e.writers[id]; !exists {
			return id
		}
		id--
		if id < -MaxSafeStreamID {
			id = -1
		}
	}
}

// RegisterReader creates a read-side stream for an id learned from decode
// (a Stream dataType or an embedded {_s:sid} placeholder). grant is called
// with StreamDataPermission deltas as the consumer acknowledges chunks.
func (e *Engine) RegisterReader(id float64, grant func(delta int64)) *Reader {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.readers[id]; ok {
		return r
	}
	r := newReader(id, grant, e.removeReader)
	e.readers[id] = r
	return r
}

// Writer looks up an active write-side stream by id.
func (e *Engine) Writer(id float64) (*Writer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.writers[id]
	return w, ok
}

// Reader looks up an active read-side stream by id.
func (e *Engine) Reader(id float64) (*Reader, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.readers[id]
	return r, ok
}

func (e *Engine) removeWriter(id float64) {
	e.mu.Lock()
	delete(e.writers, id)
	e.mu.Unlock()
}

func (e *Engine) removeReader(id float64) {
	e.mu.Lock()
	delete(e.readers, id)
	e.mu.Unlock()
}

// waitForBackpressureClear blocks until the socket reports low send
// backpressure, enqueuing a FIFO waker otherwise.
func (e *Engine) waitForBackpressureClear(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.backpressure == nil || e.backpressure.HasLowSendBackpressure() {
			e.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		e.waiters = append(e.waiters, wake)
		e.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EmitSendBackpressureDrain replays waiters FIFO while the predicate holds,
// per spec §4.5. Call this whenever the socket signals backpressure has
// cleared.
func (e *Engine) EmitSendBackpressureDrain() {
	for {
		e.mu.Lock()
		if len(e.waiters) == 0 {
			e.mu.Unlock()
			return
		}
		if e.backpressure != nil && !e.backpressure.HasLowSendBackpressure() {
			e.mu.Unlock()
			return
		}
		wake := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.mu.Unlock()
		close(wake)
	}
}

// CancelAll signals every active writer and reader on bad-connection,
// clearing both maps. Writers observe it via Closed(); readers receive a
// terminal error chunk.
func (e *Engine) CancelAll(err error) {
	e.mu.Lock()
	writers := e.writers
	readers := e.readers
	waiters := e.waiters
	e.writers = make(map[float64]*Writer)
	e.readers = make(map[float64]*Reader)
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range writers {
		w.closeLocked(CodeEnd)
	}
	for _, r := range readers {
		r.PushNow(Chunk{Err: err})
	}
	for _, wake := range waiters {
		close(wake)
	}
}
