package binarycontent

import (
	"errors"
	"testing"
	"time"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

func TestResolverFiresOnSingleFrame(t *testing.T) {
	r := New(time.Second)
	resultCh := make(chan [][]byte, 1)
	if err := r.Register(1, func(blobs [][]byte, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resultCh <- blobs
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Feed(wire.BinaryContentFrame{ID: 1, Blobs: [][]byte{{1, 2, 3}}}); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	select {
	case got := <-resultCh:
		if len(got) != 1 || string(got[0]) != string([]byte{1, 2, 3}) {
			t.Fatalf("unexpected blobs: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("resolver never fired")
	}
	if r.Len() != 0 {
		t.Fatalf("resolver not removed: Len()=%d", r.Len())
	}
}

func TestResolverBuffersAcrossContinuation(t *testing.T) {
	r := New(time.Second)
	resultCh := make(chan [][]byte, 1)
	if err := r.Register(7, func(blobs [][]byte, err error) {
		resultCh <- blobs
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Feed(wire.BinaryContentFrame{ID: 7, Blobs: [][]byte{[]byte("a")}, Continued: true}); err != nil {
		t.Fatalf("Feed 1: %v", err)
	}
	select {
	case <-resultCh:
		t.Fatal("resolver fired early on a continued frame")
	case <-time.After(10 * time.Millisecond):
	}

	if err := r.Feed(wire.BinaryContentFrame{ID: 7, Blobs: [][]byte{[]byte("b")}}); err != nil {
		t.Fatalf("Feed 2: %v", err)
	}
	select {
	case got := <-resultCh:
		if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
			t.Fatalf("unexpected buffered blobs: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("resolver never fired after true end")
	}
}

func TestResolverDuplicateRegistrationIsFatal(t *testing.T) {
	r := New(time.Second)
	if err := r.Register(1, func([][]byte, error) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(1, func([][]byte, error) {}); !errors.Is(err, wire.ErrDuplicateResolver) {
		t.Fatalf("expected ErrDuplicateResolver, got %v", err)
	}
}

func TestResolverTimeout(t *testing.T) {
	r := New(5 * time.Millisecond)
	errCh := make(chan error, 1)
	if err := r.Register(1, func(blobs [][]byte, err error) {
		errCh <- err
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	select {
	case err := <-errCh:
		if !xerrors.IsCategory(err, xerrors.CategoryTimeout) {
			t.Fatalf("expected timeout category, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("resolver never timed out")
	}
}

func TestResolverCancelAll(t *testing.T) {
	r := New(time.Second)
	errCh := make(chan error, 2)
	r.Register(1, func(_ [][]byte, err error) { errCh <- err })
	r.Register(2, func(_ [][]byte, err error) { errCh <- err })

	cause := xerrors.NewBadConnection("closed", "peer disconnected")
	r.CancelAll(cause)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != cause {
				t.Fatalf("expected cause error, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("CancelAll did not fire callback")
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty map, Len()=%d", r.Len())
	}
}
