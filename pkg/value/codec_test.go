package value

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/duplexwire/duplexwire/pkg/wire"
)

func roundTrip(t *testing.T, v Value) Value {
	dataType, tree, blobs, streams, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("unexpected streams in this test: %d", len(streams))
	}

	var data json.RawMessage
	switch dataType {
	case wire.Binary:
		// single blob: nothing to marshal, blobs already populated.
	case wire.Stream:
		b, err := json.Marshal(tree)
		if err != nil {
			t.Fatalf("marshal stream id: %v", err)
		}
		data = b
	default:
		b, err := json.Marshal(tree)
		if err != nil {
			t.Fatalf("marshal tree: %v", err)
		}
		data = b
	}

	ctx := DecodeContext{StreamsPerPackageLimit: 20}
	decoded, err := Decode(dataType, data, blobs, ctx)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return decoded
}

func TestRoundTripPlainJSON(t *testing.T) {
	v := Object(
		Entry("name", String("alice")),
		Entry("age", Number(30)),
		Entry("tags", Array(String("a"), String("b"))),
		Entry("active", Bool(true)),
		Entry("nothing", Null()),
	)
	got := roundTrip(t, v)
	if got.Kind() != KindObject {
		t.Fatalf("expected object, got kind %v", got.Kind())
	}
	name, ok := got.Get("name")
	if !ok || name.StringValue() != "alice" {
		t.Fatalf("name mismatch: %+v", name)
	}
	age, ok := got.Get("age")
	if !ok || age.NumberValue() != 30 {
		t.Fatalf("age mismatch: %+v", age)
	}
}

func TestRoundTripBlob(t *testing.T) {
	blob := []byte{1, 2, 3, 4}
	got := roundTrip(t, Blob(blob))
	if got.Kind() != KindBlob {
		t.Fatalf("expected blob, got %v", got.Kind())
	}
	if string(got.BlobValue()) != string(blob) {
		t.Fatalf("blob mismatch: %v", got.BlobValue())
	}
}

func TestRoundTripEmbeddedBlob(t *testing.T) {
	blob := []byte("hello")
	v := Object(
		Entry("file", Blob(blob)),
		Entry("label", String("x")),
	)
	got := roundTrip(t, v)
	file, ok := got.Get("file")
	if !ok || file.Kind() != KindBlob || string(file.BlobValue()) != "hello" {
		t.Fatalf("embedded blob mismatch: %+v", file)
	}
}

func TestRoundTripTime(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := roundTrip(t, Time(now))
	if got.Kind() != KindTime {
		t.Fatalf("expected time, got %v", got.Kind())
	}
	if !got.TimeValue().Equal(now) {
		t.Fatalf("time mismatch: got %v want %v", got.TimeValue(), now)
	}
}

func TestKeyEscapeInjectivity(t *testing.T) {
	cases := []string{"_b", "_s", "__b", "_normal", "plain", "_t"}
	for _, key := range cases {
		v := Object(Entry(key, String("payload")))
		got := roundTrip(t, v)
		val, ok := got.Get(key)
		if !ok {
			t.Fatalf("key %q lost after round-trip: %+v", key, got)
		}
		if val.StringValue() != "payload" {
			t.Fatalf("key %q value corrupted: %+v", key, val)
		}
	}
}

func TestEscapeKeyIsInvertible(t *testing.T) {
	for _, key := range []string{"_b", "_s", "__b", "a", "_a", "__"} {
		if got := unescapeKey(escapeKey(key)); got != key {
			t.Fatalf("escape/unescape not invertible for %q: got %q", key, got)
		}
	}
}

func TestPlaceholderDetectionRequiresNumericValue(t *testing.T) {
	// A wire object with a "_b" key whose value is NOT numeric must be
	// treated as an ordinary object, not a blob placeholder.
	got, err := Decode(wire.JSON, json.RawMessage(`{"_b":"not a number"}`), nil, DecodeContext{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind() != KindObject {
		t.Fatalf("expected ordinary object, got %v", got.Kind())
	}
	val, ok := got.Get("_b")
	if !ok || val.StringValue() != "not a number" {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestRoundTripPreservesKeyOrder(t *testing.T) {
	v := Object(
		Entry("z", Number(1)),
		Entry("b", Number(2)),
		Entry("a", Number(3)),
		Entry("m", Number(4)),
	)
	got := roundTrip(t, v)
	entries := got.ObjectValue()
	wantKeys := []string{"z", "b", "a", "m"}
	if len(entries) != len(wantKeys) {
		t.Fatalf("expected %d entries, got %d", len(wantKeys), len(entries))
	}
	for i, key := range wantKeys {
		if entries[i].Key != key {
			t.Fatalf("entry %d: expected key %q, got %q (order not preserved)", i, key, entries[i].Key)
		}
	}
}

func TestDepthGuardRejectsRunawayNesting(t *testing.T) {
	v := Null()
	for i := 0; i < MaxValueDepth+10; i++ {
		v = Array(v)
	}
	if _, _, _, _, err := Encode(v); err == nil {
		t.Fatalf("expected depth guard to trigger")
	}
}
