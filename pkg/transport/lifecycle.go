package transport

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// sendPackage implements spec §4.6: buffer while the connection is down or
// a batch was requested; otherwise send immediately and fire AfterSend.
func (t *Transport) sendPackage(pack *Package, batch *BatchOptions) error {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()

	if !open || batch != nil {
		t.buffer.Add(pack, batch)
		return nil
	}
	return t.sendNow(pack)
}

// sendPackageWithPromise resolves once AfterSend has fired (or the package
// never makes it to the socket, in which case it carries the send error).
func (t *Transport) sendPackageWithPromise(pack *Package, batch *BatchOptions) <-chan error {
	done := make(chan error, 1)
	original := pack.AfterSend
	pack.AfterSend = func() {
		if original != nil {
			original()
		}
		done <- nil
	}
	if err := t.sendPackage(pack, batch); err != nil {
		done <- err
	}
	return done
}

// tryCancelPackage removes pack from the batch buffer if it has not yet
// been sent.
func (t *Transport) tryCancelPackage(pack *Package) bool {
	return t.buffer.TryRemove(pack)
}

// sendNow writes pack to the socket under one cork so its head and any
// binary-content frames land as a single write boundary (spec §5 ordering
// guarantees), then fires AfterSend. A send error is treated as a dropped
// connection.
func (t *Transport) sendNow(pack *Package) error {
	if !pack.tryMarkSent() {
		return nil
	}

	var sendErr error
	t.socket.Cork(func() {
		if err := t.socket.Send(pack.Head, false); err != nil {
			sendErr = err
			return
		}
		for _, bf := range pack.BinaryFrames {
			if err := t.socket.Send(bf, true); err != nil {
				sendErr = err
				return
			}
		}
	})
	if sendErr != nil {
		t.emitBadConnection("send-error", sendErr.Error())
		return sendErr
	}

	if pack.AfterSend != nil {
		pack.AfterSend()
	}
	return nil
}

// sendNowIgnoringError adapts sendNow to the PackageBuffer's send callback
// shape; failures already routed the connection through emitBadConnection.
func (t *Transport) sendNowIgnoringError(pack *Package) { _ = t.sendNow(pack) }

// bundlePackages wraps several packages' heads into one Bundle action
// packet and concatenates their binary-content frames, preserving each
// original package's AfterSend hook (spec §3 "Bundle").
func (t *Transport) bundlePackages(packs []*Package) *Package {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d,[", wire.Bundle)
	var frames [][]byte
	for i, p := range packs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		buf.Write(p.Head)
		buf.WriteByte(']')
		frames = append(frames, p.BinaryFrames...)
	}
	buf.WriteByte(']')

	return &Package{
		Head:         buf.Bytes(),
		BinaryFrames: frames,
		AfterSend: func() {
			for _, p := range packs {
				if p.AfterSend != nil {
					p.AfterSend()
				}
			}
		},
	}
}

// sendPing/sendPong send the single-byte control frames; errors are
// swallowed per spec §4.6.
func (t *Transport) sendPing() { _ = t.socket.Send([]byte{wire.Ping}, true) }
func (t *Transport) sendPong() { _ = t.socket.Send([]byte{wire.Pong}, true) }

// emitConnection marks the transport open and flushes anything buffered
// while it was down.
func (t *Transport) emitConnection() {
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	t.buffer.FlushBuffer()
}

// emitBadConnection implements spec §4.6: mark closed, strictly bump the
// fence stamp, clear the batch timer, and cancel every pending resolver,
// invoke, and stream on this side. Identifier counters are left untouched
// so old-id packets arriving post-reconnect are recognizable as stale.
func (t *Transport) emitBadConnection(connType, msg string) {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
	atomic.AddUint64(&t.badConnectionStamp, 1)
	t.buffer.ClearBatchTimer()

	err := xerrors.NewBadConnection(connType, msg)
	t.calls.CancelAll(err)
	t.resolver.CancelAll(err)
	t.streams.CancelAll(err)

	if t.instrumentation != nil {
		t.instrumentation.IncBadConnection()
		t.instrumentation.SetActiveStreams(0)
	}
	t.logger.Warn("bad connection", "type", connType, "message", msg)
}
