package transport

import (
	"context"
	"fmt"

	"github.com/duplexwire/duplexwire/pkg/streamengine"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// ObjectStream is the public write-side handle for an outbound object
// stream: embed it in a Value via value.Stream(s) to send its id, then
// Write/End once the peer's StreamAccept arrives.
type ObjectStream struct {
	w *streamengine.Writer
	t *Transport
}

// BinaryStream is the write-side handle for an outbound binary stream.
// Unlike ObjectStream, chunks are raw bytes sent as binary frames, bypassing
// the value codec entirely.
type BinaryStream struct {
	w *streamengine.Writer
	t *Transport
}

// NewObjectStream allocates a fresh write-side object stream.
func (t *Transport) NewObjectStream() *ObjectStream {
	w := t.streams.NewWriter(streamengine.KindObject, t.sendObjectStreamChunk)
	return &ObjectStream{w: w, t: t}
}

// NewBinaryStream allocates a fresh write-side binary stream.
func (t *Transport) NewBinaryStream() *BinaryStream {
	w := t.streams.NewWriter(streamengine.KindBinary, t.sendBinaryStreamChunk)
	return &BinaryStream{w: w, t: t}
}

func (s *ObjectStream) StreamID() float64       { return s.w.StreamID() }
func (s *ObjectStream) State() streamengine.WriteState { return s.w.State() }
func (s *ObjectStream) Closed() <-chan struct{}  { return s.w.Closed() }

// Write sends one item once credit/backpressure allow it. Item credit is
// conventionally 1 per chunk for object streams.
func (s *ObjectStream) Write(ctx context.Context, v value.Value) error {
	return s.w.Write(ctx, v, 1)
}

// End sends StreamEnd, optionally with a final item.
func (s *ObjectStream) End(ctx context.Context, final *value.Value) error {
	return s.w.End(ctx, final, 1)
}

// Abort sends WriteStreamClose(code) to the peer and transitions Closed.
func (s *ObjectStream) Abort(code float64) {
	s.t.sendWriteStreamClose(s.w.StreamID(), code)
	s.w.HandleReadStreamClose(code)
}

func (s *BinaryStream) StreamID() float64       { return s.w.StreamID() }
func (s *BinaryStream) State() streamengine.WriteState { return s.w.State() }
func (s *BinaryStream) Closed() <-chan struct{}  { return s.w.Closed() }

// Write sends a raw byte chunk once enough credit/backpressure allow it.
func (s *BinaryStream) Write(ctx context.Context, chunk []byte) error {
	return s.w.Write(ctx, value.Blob(chunk), int64(len(chunk)))
}

// End sends StreamEnd, optionally with a final byte chunk.
func (s *BinaryStream) End(ctx context.Context, final []byte) error {
	if final == nil {
		return s.w.End(ctx, nil, 0)
	}
	v := value.Blob(final)
	return s.w.End(ctx, &v, int64(len(final)))
}

// Abort sends WriteStreamClose(code) to the peer and transitions Closed.
func (s *BinaryStream) Abort(code float64) {
	s.t.sendWriteStreamClose(s.w.StreamID(), code)
	s.w.HandleReadStreamClose(code)
}

// sendBinaryStreamChunk is the SendFunc bound to every binary Writer: the
// chunk's blob bytes go out verbatim as a StreamChunk/StreamEnd binary
// frame, no value codec involved.
func (t *Transport) sendBinaryStreamChunk(streamID float64, chunk value.Value, hasChunk, isEnd bool) error {
	typ := wire.StreamChunk
	if isEnd {
		typ = wire.StreamEnd
	}
	var payload []byte
	if hasChunk {
		payload = chunk.BlobValue()
	}
	frame := wire.EncodeStreamFrame(wire.StreamFrame{Type: typ, StreamID: streamID, Payload: payload})
	return t.socket.Send(frame, true)
}

// sendObjectStreamChunk is the SendFunc bound to every object Writer: the
// chunk value runs through the value codec like any other payload, with its
// own companion binary-content frame if it embeds blobs, gated on
// chunksCanContainStreams if it embeds a nested stream (spec §4.5 policy).
func (t *Transport) sendObjectStreamChunk(streamID float64, chunk value.Value, hasChunk, isEnd bool) error {
	dataType := wire.JSON
	var tree interface{}
	var blobs [][]byte
	var streams []value.StreamRef
	if hasChunk {
		var err error
		dataType, tree, blobs, streams, err = value.Encode(chunk)
		if err != nil {
			return err
		}
		if len(streams) > 0 && !t.streams.ChunksCanContainStreams() {
			return fmt.Errorf("transport: chunk on stream %v embeds a stream while chunksCanContainStreams=false", streamID)
		}
	}

	var data, meta []byte
	var binaryFrames [][]byte
	if hasChunk {
		data, meta, binaryFrames = t.materializeBlobs(dataType, tree, blobs)
	}
	var head []byte
	var err error
	if isEnd {
		head, err = wire.EncodeAction(wire.StreamEndPacket{StreamID: streamID, DataType: dataType, Data: data, Meta: meta})
	} else {
		head, err = wire.EncodeAction(wire.StreamChunkPacket{StreamID: streamID, DataType: dataType, Data: data, Meta: meta})
	}
	if err != nil {
		return err
	}

	return t.sendPackage(&Package{Head: head, BinaryFrames: binaryFrames, AfterSend: t.markStreamsSent(streams)}, nil)
}
