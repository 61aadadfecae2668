// Package value implements the tagged value variant and its codec: the
// statically typed stand-in for the source's runtime type inspection
// (`instanceof ArrayBuffer`, `instanceof WriteStream`) when walking a user
// payload for embedded blobs and live streams.
package value

import "time"

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindTime
	KindBlob
	KindStream
	KindArray
	KindObject
)

// StreamRef is the minimal surface a live stream writer must expose to be
// embedded in a Value tree. streamengine.Writer satisfies this without
// pkg/value importing pkg/streamengine.
type StreamRef interface {
	StreamID() float64
}

// ObjectEntry is one key/value pair of a KindObject Value. Order is
// preserved through encode so output is deterministic.
type ObjectEntry struct {
	Key   string
	Value Value
}

// Entry builds an ObjectEntry.
func Entry(key string, v Value) ObjectEntry { return ObjectEntry{Key: key, Value: v} }

// Value is the tagged variant users build payloads from: Null | Bool | Num |
// Str | Time | Blob | StreamRef | Array(Value) | Object(map<str,Value>),
// per Design Note §9.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	t      time.Time
	blob   []byte
	stream StreamRef
	arr    []Value
	obj    []ObjectEntry
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Number(n float64) Value       { return Value{kind: KindNumber, n: n} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value       { return Value{kind: KindTime, t: t} }
func Blob(b []byte) Value          { return Value{kind: KindBlob, blob: b} }
func Stream(s StreamRef) Value     { return Value{kind: KindStream, stream: s} }
func Array(items ...Value) Value   { return Value{kind: KindArray, arr: items} }
func Object(entries ...ObjectEntry) Value {
	return Value{kind: KindObject, obj: entries}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) BoolValue() bool { return v.b }
func (v Value) NumberValue() float64 { return v.n }
func (v Value) StringValue() string { return v.s }
func (v Value) TimeValue() time.Time { return v.t }
func (v Value) BlobValue() []byte { return v.blob }
func (v Value) StreamValue() StreamRef { return v.stream }
func (v Value) ArrayValue() []Value { return v.arr }
func (v Value) ObjectValue() []ObjectEntry { return v.obj }

// Get returns the value of the first entry with the given key in a
// KindObject Value, or false if absent.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.obj {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}
