package streamengine

import (
	"context"
	"testing"
	"time"

	"github.com/duplexwire/duplexwire/pkg/value"
)

func TestCreditRespected(t *testing.T) {
	eng := New(nil, false)
	var sent int64
	w := eng.NewWriter(KindBinary, func(id float64, chunk value.Value, hasChunk, isEnd bool) error {
		sent += int64(len(chunk.BlobValue()))
		return nil
	})
	w.MarkSent()
	if err := w.Accept(1024); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	done := make(chan struct{})
	go func() {
		ctx := context.Background()
		if err := w.Write(ctx, value.Blob(make([]byte, 1024)), 1024); err != nil {
			t.Errorf("first write: %v", err)
		}
		if err := w.Write(ctx, value.Blob(make([]byte, 1024)), 1024); err != nil {
			t.Errorf("second write: %v", err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if sent != 1024 {
		t.Fatalf("expected exactly 1024 sent before more credit granted, got %d", sent)
	}

	w.Grant(1024)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second write never unblocked after Grant")
	}
	if sent != 2048 {
		t.Fatalf("expected 2048 total sent, got %d", sent)
	}
}

type fakeBackpressure struct {
	low bool
}

func (f *fakeBackpressure) HasLowSendBackpressure() bool { return f.low }

func TestBackpressureObedience(t *testing.T) {
	bp := &fakeBackpressure{low: false}
	eng := New(bp, false)
	var sentAt []time.Time
	w := eng.NewWriter(KindBinary, func(id float64, chunk value.Value, hasChunk, isEnd bool) error {
		sentAt = append(sentAt, time.Now())
		return nil
	})
	w.MarkSent()
	w.Accept(1024)

	done := make(chan struct{})
	go func() {
		if err := w.Write(context.Background(), value.Blob(make([]byte, 10)), 10); err != nil {
			t.Errorf("write: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("write completed despite low backpressure being false")
	case <-time.After(20 * time.Millisecond):
	}

	bp.low = true
	eng.EmitSendBackpressureDrain()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write never unblocked after backpressure drain")
	}
}

func TestReaderOrderingUnderArbitraryDecodeLatency(t *testing.T) {
	eng := New(nil, false)
	r := eng.RegisterReader(1, func(delta int64) {})
	r.MarkOpen()

	ch1 := make(chan Chunk, 1)
	ch2 := make(chan Chunk, 1)
	ch3 := make(chan Chunk, 1)
	r.PushDecode(ch1)
	r.PushDecode(ch2)
	r.PushDecode(ch3)

	// Resolve out of order: 3 first, then 1, then 2.
	ch3 <- Chunk{Value: value.Number(3), HasValue: true, IsEnd: true}
	time.Sleep(5 * time.Millisecond)
	ch1 <- Chunk{Value: value.Number(1), HasValue: true}
	time.Sleep(5 * time.Millisecond)
	ch2 <- Chunk{Value: value.Number(2), HasValue: true}

	var got []float64
	for c := range r.Chunks() {
		got = append(got, c.Value.NumberValue())
		if c.IsEnd {
			break
		}
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected delivery in push order [1,2,3], got %v", got)
	}
}

func TestStreamIDSignAssignsObjectAndBinarySeparately(t *testing.T) {
	eng := New(nil, false)
	obj := eng.NewWriter(KindObject, func(float64, value.Value, bool, bool) error { return nil })
	bin := eng.NewWriter(KindBinary, func(float64, value.Value, bool, bool) error { return nil })
	if obj.StreamID() <= 0 {
		t.Fatalf("expected positive object stream id, got %v", obj.StreamID())
	}
	if bin.StreamID() >= 0 {
		t.Fatalf("expected negative binary stream id, got %v", bin.StreamID())
	}
}
