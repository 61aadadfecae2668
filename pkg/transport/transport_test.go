package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/duplexwire/duplexwire/internal/config"
	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/streamengine"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

func newLoopbackPair(configure func(*config.Options)) (a, b *Transport) {
	opts := config.Default()
	opts.ResponseTimeoutMS = 200
	opts.BinaryContentPacketTimeoutMS = 100
	if configure != nil {
		configure(&opts)
	}
	return Loopback(
		func(s Socket) *Transport { return New(s, opts) },
		func(s Socket) *Transport { return New(s, opts) },
	)
}

func TestPlainInvoke(t *testing.T) {
	a, b := newLoopbackPair(nil)
	b.listeners.OnInvoke = func(inv *Invoke) {
		x, _ := inv.Data.Get("a")
		y, _ := inv.Data.Get("b")
		inv.End(value.Number(x.NumberValue() + y.NumberValue()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, _, err := a.Invoke(ctx, "add", value.Object(value.Entry("a", value.Number(1)), value.Entry("b", value.Number(2))), InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if v.NumberValue() != 3 {
		t.Fatalf("expected 3, got %v", v.NumberValue())
	}
}

func TestInvokeWithBlob(t *testing.T) {
	a, b := newLoopbackPair(nil)
	received := make(chan []byte, 1)
	b.listeners.OnInvoke = func(inv *Invoke) {
		received <- inv.Data.BlobValue()
		inv.End(value.Null())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := a.Invoke(ctx, "upload", value.Blob([]byte{1, 2, 3}), InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	blob := <-received
	if !bytes.Equal(blob, []byte{1, 2, 3}) {
		t.Fatalf("expected byte-equal blob, got %v", blob)
	}
}

func TestMixedPayloadWithStreamAndBlob(t *testing.T) {
	a, b := newLoopbackPair(nil)
	gotLabel := make(chan string, 1)
	gotChunks := make(chan streamengine.Chunk, 4)
	b.listeners.OnInvoke = func(inv *Invoke) {
		meta, _ := inv.Data.Get("meta")
		label, _ := meta.Get("label")
		gotLabel <- label.StringValue()

		file, _ := inv.Data.Get("file")
		if !bytes.Equal(file.BlobValue(), []byte("0123456789abcdef")) {
			t.Errorf("unexpected blob payload: %v", file.BlobValue())
		}

		streamVal, _ := inv.Data.Get("s")
		r, ok := streamVal.StreamValue().(*streamengine.Reader)
		if !ok {
			t.Errorf("embedded stream value is %T, want *streamengine.Reader", streamVal.StreamValue())
		} else {
			for c := range r.Chunks() {
				gotChunks <- c
				if c.IsEnd {
					break
				}
			}
		}
		inv.End(value.Null())
	}

	s := a.NewObjectStream()
	payload := value.Object(
		value.Entry("file", value.Blob([]byte("0123456789abcdef"))),
		value.Entry("meta", value.Object(value.Entry("label", value.String("x")))),
		value.Entry("s", value.Stream(s)),
	)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Write(context.Background(), value.Number(1))
		_ = s.End(context.Background(), nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := a.Invoke(ctx, "mixed", payload, InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	select {
	case label := <-gotLabel:
		if label != "x" {
			t.Fatalf("expected label x, got %q", label)
		}
	case <-time.After(time.Second):
		t.Fatal("never observed mixed payload")
	}

	var chunk streamengine.Chunk
	select {
	case chunk = <-gotChunks:
	case <-time.After(time.Second):
		t.Fatal("never observed a chunk written to the embedded stream")
	}
	if !chunk.HasValue || chunk.Value.NumberValue() != 1 {
		t.Fatalf("expected first chunk to carry value.Number(1), got %+v", chunk)
	}

	select {
	case end := <-gotChunks:
		if !end.IsEnd {
			t.Fatalf("expected second chunk to be the stream end, got %+v", end)
		}
	case <-time.After(time.Second):
		t.Fatal("never observed the stream end")
	}
}

func TestStreamCredit(t *testing.T) {
	a, b := newLoopbackPair(nil)

	streamOpened := make(chan value.StreamRef, 1)
	b.listeners.OnTransmit = func(receiver string, v value.Value) {
		streamOpened <- v.StreamValue()
	}

	s := a.NewBinaryStream()
	if err := a.Transmit("open", value.Stream(s), TransmitOptions{}); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	select {
	case <-streamOpened:
	case <-time.After(time.Second):
		t.Fatal("peer never observed stream")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.End(ctx, []byte("payload")); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestBinaryContentTimeout(t *testing.T) {
	a, _ := newLoopbackPair(func(o *config.Options) { o.BinaryContentPacketTimeoutMS = 30 })

	var invalidErr error
	done := make(chan struct{})
	a.listeners.OnInvalidMessage = func(err error) {
		invalidErr = err
		close(done)
	}

	// A peer that references a binary id but never follows up with the
	// BinaryContent frame should trip the resolver's own deadline.
	head, err := wire.EncodeAction(wire.TransmitPacket{Receiver: "x", DataType: wire.Binary, Data: []byte("42")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	a.emitMessage(head, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("never observed binary-content timeout")
	}
	if !xerrors.IsCategory(invalidErr, xerrors.CategoryTimeout) {
		t.Fatalf("expected a timeout-wrapped invalid message, got %v", invalidErr)
	}
}

func TestDisconnectMidInvoke(t *testing.T) {
	a, _ := newLoopbackPair(nil)

	stampBefore := a.currentStamp()
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _, err := a.Invoke(ctx, "stuck", value.Null(), InvokeOptions{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.emitBadConnection("lost", "socket closed")

	select {
	case err := <-done:
		if !xerrors.IsCategory(err, xerrors.CategoryBadConnection) {
			t.Fatalf("expected BadConnection, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("invoke never rejected on disconnect")
	}
	if a.currentStamp() == stampBefore {
		t.Fatal("badConnectionStamp did not change")
	}
}
