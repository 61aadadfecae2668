package transport

import (
	"sync"
	"time"
)

// Package is an outbound unit: a text head plus zero or more companion
// binary-content frames, and an optional post-send hook (glossary
// "Package"). prepareInvoke's AfterSend closure is what arms the invoke
// registry's response timer once the package actually reaches the socket.
type Package struct {
	Head         []byte
	BinaryFrames [][]byte
	AfterSend    func()

	mu        sync.Mutex
	cancelled bool
	sent      bool
}

// tryMarkSent returns false if the package was already cancelled or sent.
func (p *Package) tryMarkSent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled || p.sent {
		return false
	}
	p.sent = true
	return true
}

func (p *Package) tryCancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent || p.cancelled {
		return false
	}
	p.cancelled = true
	return true
}

// BatchOptions configures how a buffered package participates in the next
// flush (spec §6 "options include batch size/time thresholds").
type BatchOptions struct {
	MaxSize  int           // flush once the buffer holds this many packages (0 = no size threshold)
	MaxDelay time.Duration // flush this long after the first buffered package (0 = no time threshold)
}

// PackageBuffer is the external batch-buffer collaborator (spec §6).
type PackageBuffer interface {
	Add(pack *Package, batch *BatchOptions)
	FlushBuffer()
	ClearBatchTimer()
	TryRemove(pack *Package) bool
}

// defaultPackageBuffer batches by count/time threshold and concatenates
// buffered text heads into one Bundle packet on flush, grounded on the
// teacher's ticker-driven WriteLoop coalescing writes under one lock.
type defaultPackageBuffer struct {
	mu      sync.Mutex
	pending []*Package
	timer   *time.Timer
	opts    BatchOptions
	send    func(pack *Package)
	bundle  func(packs []*Package) *Package
}

func newDefaultPackageBuffer(defaultOpts BatchOptions, send func(pack *Package), bundle func([]*Package) *Package) *defaultPackageBuffer {
	return &defaultPackageBuffer{opts: defaultOpts, send: send, bundle: bundle}
}

func (b *defaultPackageBuffer) Add(pack *Package, batch *BatchOptions) {
	opts := b.opts
	if batch != nil {
		opts = *batch
	}

	b.mu.Lock()
	b.pending = append(b.pending, pack)
	size := len(b.pending)
	if b.timer == nil && opts.MaxDelay > 0 {
		b.timer = time.AfterFunc(opts.MaxDelay, b.FlushBuffer)
	}
	flushNow := opts.MaxSize > 0 && size >= opts.MaxSize
	b.mu.Unlock()

	if flushNow {
		b.FlushBuffer()
	}
}

func (b *defaultPackageBuffer) FlushBuffer() {
	b.mu.Lock()
	packs := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(packs) == 0 {
		return
	}
	if len(packs) == 1 {
		b.send(packs[0])
		return
	}
	b.send(b.bundle(packs))
}

func (b *defaultPackageBuffer) ClearBatchTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *defaultPackageBuffer) TryRemove(pack *Package) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.pending {
		if p == pack {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return pack.tryCancel()
		}
	}
	return false
}
