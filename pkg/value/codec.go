package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duplexwire/duplexwire/pkg/wire"
)

// MaxValueDepth bounds the deep-walk recursion, the practical stand-in for
// cycle detection on a variant that cannot otherwise self-reference (§9
// "Cyclic references").
const MaxValueDepth = 256

// objectPair is one emitted key/value pair; orderedObject preserves
// insertion order through json.Marshal, unlike a plain map.
type objectPair struct {
	Key   string
	Value interface{}
}

type orderedObject []objectPair

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// timePlaceholderKey and friends are synthetic markers, never passed
// through escapeKey since they are emitted directly by the codec rather
// than copied from a user-supplied KindObject entry.
const (
	blobPlaceholderKey   = "_b"
	streamPlaceholderKey = "_s"
	timePlaceholderKey   = "_t"
)

// collector accumulates blobs and stream refs encountered during a
// deep-walk encode, in encounter order.
type collector struct {
	blobs   [][]byte
	streams []StreamRef
}

// Encode walks v and produces one of the four shapes spec §4.2 describes.
// For the Binary shape tree is nil and the blob is carried by blobs; for the
// Stream shape tree is the stream id and the stream is carried by streams.
// For JSON-family shapes tree is a json.Marshal-able value.
func Encode(v Value) (dataType wire.DataType, tree interface{}, blobs [][]byte, streams []StreamRef, err error) {
	switch v.kind {
	case KindBlob:
		if err := wire.CheckBlobSize(v.blob); err != nil {
			return 0, nil, nil, nil, err
		}
		return wire.Binary, nil, [][]byte{v.blob}, nil, nil
	case KindStream:
		return wire.Stream, v.stream.StreamID(), nil, []StreamRef{v.stream}, nil
	}

	c := &collector{}
	tree, err = encodeNode(v, c, 0)
	if err != nil {
		return 0, nil, nil, nil, err
	}

	switch {
	case len(c.blobs) > 0 && len(c.streams) > 0:
		dataType = wire.JSONWithStreamsAndBinaries
	case len(c.streams) > 0:
		dataType = wire.JSONWithStreams
	case len(c.blobs) > 0:
		dataType = wire.JSONWithBinaries
	default:
		dataType = wire.JSON
	}
	return dataType, tree, c.blobs, c.streams, nil
}

func encodeNode(v Value, c *collector, depth int) (interface{}, error) {
	if depth > MaxValueDepth {
		return nil, wire.ErrCyclicValue
	}
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindNumber:
		return v.n, nil
	case KindString:
		return v.s, nil
	case KindTime:
		return orderedObject{{timePlaceholderKey, v.t.UTC().Format(time.RFC3339Nano)}}, nil
	case KindBlob:
		if err := wire.CheckBlobSize(v.blob); err != nil {
			return nil, err
		}
		idx := len(c.blobs)
		c.blobs = append(c.blobs, v.blob)
		return orderedObject{{blobPlaceholderKey, idx}}, nil
	case KindStream:
		sid := v.stream.StreamID()
		c.streams = append(c.streams, v.stream)
		return orderedObject{{streamPlaceholderKey, sid}}, nil
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			enc, err := encodeNode(item, c, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case KindObject:
		out := make(orderedObject, len(v.obj))
		for i, entry := range v.obj {
			enc, err := encodeNode(entry.Value, c, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = objectPair{Key: escapeKey(entry.Key), Value: enc}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// DecodeContext supplies the collaborators value.Decode needs but cannot
// import directly: blob resolution has already happened by the time Decode
// runs (the binary-content resolver delivers blobs synchronously to the
// caller), and NewStream binds a decoded placeholder id to a live read-side
// stream on this transport.
type DecodeContext struct {
	NewStream              func(streamID float64) (StreamRef, error)
	StreamsPerPackageLimit int
}

// Decode reverses Encode given the dataType that accompanied the packet,
// its data payload, and any blobs already resolved for it.
func Decode(dataType wire.DataType, data json.RawMessage, blobs [][]byte, ctx DecodeContext) (Value, error) {
	switch dataType {
	case wire.Binary:
		if len(blobs) != 1 {
			return Value{}, fmt.Errorf("value: Binary dataType expects exactly one blob, got %d", len(blobs))
		}
		return Blob(blobs[0]), nil
	case wire.Stream:
		var sid float64
		if err := json.Unmarshal(data, &sid); err != nil {
			return Value{}, fmt.Errorf("value: invalid Stream id: %w", err)
		}
		ref, err := ctx.NewStream(sid)
		if err != nil {
			return Value{}, err
		}
		return Stream(ref), nil
	case wire.JSON, wire.JSONWithBinaries, wire.JSONWithStreams, wire.JSONWithStreamsAndBinaries:
		var raw interface{}
		if len(data) > 0 {
			var err error
			raw, err = parseOrdered(data)
			if err != nil {
				return Value{}, fmt.Errorf("value: invalid JSON payload: %w", err)
			}
		}
		resolved := 0
		return decodeNode(raw, blobs, ctx, &resolved)
	default:
		return Value{}, fmt.Errorf("value: unknown data type %v", dataType)
	}
}

// orderedEntry/orderedMap mirror objectPair/orderedObject on the decode
// side: a json.Decoder token walk preserves the document's key order
// instead of json.Unmarshal's map[string]interface{}, so an Object decodes
// back with the same entry order Encode produced (§8 round-trip property).
type orderedEntry struct {
	Key   string
	Value interface{}
}

type orderedMap []orderedEntry

func (m orderedMap) lookup(key string) (interface{}, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// parseOrdered decodes one JSON document via token-walk, representing
// objects as orderedMap instead of a Go map so document order survives.
func parseOrdered(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := parseOrderedValue(dec)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func parseOrderedValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := orderedMap{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("value: non-string object key %v", keyTok)
				}
				val, err := parseOrderedValue(dec)
				if err != nil {
					return nil, err
				}
				m = append(m, orderedEntry{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return m, nil
		case '[':
			var arr []interface{}
			for dec.More() {
				val, err := parseOrderedValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("value: unexpected delimiter %v", t)
		}
	default:
		return tok, nil // nil, bool, float64, or string
	}
}

func decodeNode(raw interface{}, blobs [][]byte, ctx DecodeContext, resolved *int) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, elem := range t {
			v, err := decodeNode(elem, blobs, ctx, resolved)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case orderedMap:
		return decodeObjectNode(t, blobs, ctx, resolved)
	default:
		return Value{}, fmt.Errorf("value: unsupported JSON node type %T", raw)
	}
}

func decodeObjectNode(m orderedMap, blobs [][]byte, ctx DecodeContext, resolved *int) (Value, error) {
	// Determinism rule (§4.2): placeholder detection requires both the key
	// and a numeric/string value of the expected shape; otherwise treat as
	// an ordinary (escaped-key) object.
	if n, ok := numberField(m, blobPlaceholderKey); ok {
		idx := int(n)
		if idx < 0 || idx >= len(blobs) {
			return Value{}, fmt.Errorf("value: blob placeholder index %d out of range (have %d)", idx, len(blobs))
		}
		return Blob(blobs[idx]), nil
	}
	if n, ok := numberField(m, streamPlaceholderKey); ok {
		*resolved++
		if ctx.StreamsPerPackageLimit > 0 && *resolved > ctx.StreamsPerPackageLimit {
			return Value{}, fmt.Errorf("value: exceeded streamsPerPackageLimit resolving stream placeholder")
		}
		ref, err := ctx.NewStream(n)
		if err != nil {
			return Value{}, err
		}
		return Stream(ref), nil
	}
	if s, ok := stringField(m, timePlaceholderKey); ok {
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, fmt.Errorf("value: invalid time placeholder: %w", err)
		}
		return Time(parsed), nil
	}

	entries := make([]ObjectEntry, 0, len(m))
	for _, e := range m {
		v, err := decodeNode(e.Value, blobs, ctx, resolved)
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, Entry(unescapeKey(e.Key), v))
	}
	return Object(entries...), nil
}

func numberField(m orderedMap, key string) (float64, bool) {
	v, ok := m.lookup(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

func stringField(m orderedMap, key string) (string, bool) {
	v, ok := m.lookup(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
