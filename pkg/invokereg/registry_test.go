package invokereg

import (
	"context"
	"testing"
	"time"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

func TestPlainInvokeResolves(t *testing.T) {
	r := New(time.Second)
	call := r.PrepareInvoke(false, 0)
	r.AfterSend(call.CallID, nil)

	r.Resolve(call.CallID, value.Number(5), wire.JSON)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, _, err := call.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.NumberValue() != 5 {
		t.Fatalf("expected 5, got %v", data.NumberValue())
	}
}

func TestInvokeTimeout(t *testing.T) {
	r := New(5 * time.Millisecond)
	call := r.PrepareInvoke(false, 0)
	r.AfterSend(call.CallID, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := call.Wait(ctx)
	if !xerrors.IsCategory(err, xerrors.CategoryTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

type fakeStream struct {
	id     float64
	closed chan struct{}
}

func (f *fakeStream) StreamID() float64       { return f.id }
func (f *fakeStream) Closed() <-chan struct{} { return f.closed }

func TestLazyArmingWaitsForEmbeddedStreamClose(t *testing.T) {
	r := New(5 * time.Millisecond)
	call := r.PrepareInvoke(false, 0)
	s := &fakeStream{id: 1, closed: make(chan struct{})}
	r.AfterSend(call.CallID, []value.StreamRef{s})

	// The timer must not fire while the stream is still open, even though
	// the configured timeout is far shorter than our wait below.
	select {
	case <-call.ch:
		t.Fatal("call resolved/timed out before stream closed")
	case <-time.After(30 * time.Millisecond):
	}

	close(s.closed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := call.Wait(ctx)
	if !xerrors.IsCategory(err, xerrors.CategoryTimeout) {
		t.Fatalf("expected timeout to fire once the stream is closed, got %v", err)
	}
}

func TestIdWrapSkipsOutstanding(t *testing.T) {
	r := New(time.Second)
	r.nextID = MaxSafeCallID - 1

	first := r.PrepareInvoke(false, 0)  // MaxSafeCallID-1
	second := r.PrepareInvoke(false, 0) // MaxSafeCallID
	third := r.PrepareInvoke(false, 0)  // wraps to 0

	if first.CallID != MaxSafeCallID-1 || second.CallID != MaxSafeCallID {
		t.Fatalf("unexpected ids before wrap: %v %v", first.CallID, second.CallID)
	}
	if third.CallID != 0 {
		t.Fatalf("expected wrap to 0, got %v", third.CallID)
	}

	// Occupy id 0 and 1 so the allocator must skip over both outstanding ids.
	r.pending[0] = &entry{call: &Call{CallID: 0, ch: make(chan result, 1)}, timeout: time.Second}
	r.pending[1] = &entry{call: &Call{CallID: 1, ch: make(chan result, 1)}, timeout: time.Second}
	r.nextID = 0
	fourth := r.PrepareInvoke(false, 0)
	if fourth.CallID != 2 {
		t.Fatalf("expected allocator to skip outstanding ids 0 and 1, got %v", fourth.CallID)
	}
}

func TestCancelAllRejectsEverything(t *testing.T) {
	r := New(time.Second)
	a := r.PrepareInvoke(false, 0)
	b := r.PrepareInvoke(false, 0)
	r.AfterSend(a.CallID, nil)
	r.AfterSend(b.CallID, nil)

	cause := xerrors.NewBadConnection("closed", "lost")
	r.CancelAll(cause)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := a.Wait(ctx); err != cause {
		t.Fatalf("expected cause, got %v", err)
	}
	if _, _, err := b.Wait(ctx); err != cause {
		t.Fatalf("expected cause, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, Len()=%d", r.Len())
	}
}
