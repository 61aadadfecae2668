package transport

import (
	"encoding/json"
	"fmt"

	"github.com/duplexwire/duplexwire/pkg/streamengine"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// emitMessage is the sole inbound entry point: classify, parse, dispatch.
// Every error along the way is routed to onInvalidMessage rather than
// propagated (spec §4.6).
func (t *Transport) emitMessage(raw []byte, isBinary bool) {
	if isBinary {
		t.emitBinaryMessage(raw)
		return
	}

	actions, err := wire.ParseFrame(raw)
	if err != nil {
		t.invalidMessage(err)
		return
	}
	for _, a := range actions {
		t.dispatchAction(a)
	}
}

func (t *Transport) emitBinaryMessage(raw []byte) {
	kind, err := wire.ClassifyBinary(raw)
	if err != nil {
		t.invalidMessage(err)
		return
	}
	switch kind {
	case wire.FramePing:
		t.safeOnPing()
	case wire.FramePong:
		t.safeOnPong()
	case wire.FrameBinaryContent:
		frame, err := wire.DecodeBinaryContentFrame(raw)
		if err != nil {
			t.invalidMessage(err)
			return
		}
		if err := t.resolver.Feed(frame); err != nil {
			t.invalidMessage(err)
		}
	case wire.FrameStreamChunk, wire.FrameStreamEnd:
		frame, err := wire.DecodeStreamFrame(raw)
		if err != nil {
			t.invalidMessage(err)
			return
		}
		t.dispatchBinaryStreamFrame(frame)
	}
}

// dispatchBinaryStreamFrame routes a raw binary-stream chunk/end: no value
// codec involved, the payload is the chunk verbatim.
func (t *Transport) dispatchBinaryStreamFrame(f wire.StreamFrame) {
	r, ok := t.streams.Reader(f.StreamID)
	if !ok {
		t.invalidMessage(fmt.Errorf("transport: %s for unknown binary stream %v", f.Type, f.StreamID))
		return
	}
	r.PushNow(streamengine.Chunk{
		Value:    value.Blob(f.Payload),
		HasValue: len(f.Payload) > 0,
		IsEnd:    f.Type == wire.StreamEnd,
	})
}

func (t *Transport) dispatchAction(a wire.Action) {
	switch p := a.(type) {
	case wire.BundlePacket:
		for _, sub := range p.Actions {
			t.dispatchAction(sub)
		}
	case wire.TransmitPacket:
		t.dispatchTransmit(p)
	case wire.InvokePacket:
		t.dispatchInvoke(p)
	case wire.InvokeDataRespPacket:
		t.dispatchInvokeDataResp(p)
	case wire.InvokeErrRespPacket:
		t.calls.Reject(p.CallID, t.errorCodec.Hydrate(p.RawErr))
	case wire.StreamAcceptPacket:
		t.dispatchStreamAccept(p)
	case wire.StreamChunkPacket:
		t.dispatchStreamChunk(p, false)
	case wire.StreamEndPacket:
		t.dispatchStreamChunk(wire.StreamChunkPacket(p), true)
	case wire.StreamDataPermissionPacket:
		t.dispatchStreamDataPermission(p)
	case wire.WriteStreamClosePacket:
		t.dispatchWriteStreamClose(p)
	case wire.ReadStreamClosePacket:
		t.dispatchReadStreamClose(p)
	default:
		t.invalidMessage(fmt.Errorf("transport: unhandled action type %T", a))
	}
}

func (t *Transport) dispatchTransmit(p wire.TransmitPacket) {
	t.decodeAsync(p.DataType, p.Data, p.Meta, t.decodeCtx(), func(v value.Value, err error) {
		if err != nil {
			t.invalidMessage(err)
			return
		}
		t.safeOnTransmit(p.Receiver, v)
	})
}

func (t *Transport) dispatchInvoke(p wire.InvokePacket) {
	stamp := t.currentStamp()
	t.decodeAsync(p.DataType, p.Data, p.Meta, t.decodeCtx(), func(v value.Value, err error) {
		if err != nil {
			t.invalidMessage(err)
			return
		}
		inv := &Invoke{Procedure: p.Procedure, CallID: p.CallID, Data: v, t: t, stampAtDelivery: stamp}
		t.safeOnInvoke(inv)
	})
}

func (t *Transport) dispatchInvokeDataResp(p wire.InvokeDataRespPacket) {
	t.decodeAsync(p.DataType, p.Data, p.Meta, t.decodeCtx(), func(v value.Value, err error) {
		if err != nil {
			t.calls.Reject(p.CallID, err)
			return
		}
		t.calls.Resolve(p.CallID, v, p.DataType)
	})
}

func (t *Transport) dispatchStreamAccept(p wire.StreamAcceptPacket) {
	w, ok := t.streams.Writer(p.StreamID)
	if !ok {
		t.invalidMessage(fmt.Errorf("transport: StreamAccept for unknown stream %v", p.StreamID))
		return
	}
	if err := w.Accept(int64(p.InitialCredit)); err != nil {
		t.invalidMessage(err)
	}
}

func (t *Transport) dispatchStreamDataPermission(p wire.StreamDataPermissionPacket) {
	w, ok := t.streams.Writer(p.StreamID)
	if !ok {
		t.invalidMessage(fmt.Errorf("transport: StreamDataPermission for unknown stream %v", p.StreamID))
		return
	}
	w.Grant(int64(p.AdditionalCredit))
}

func (t *Transport) dispatchWriteStreamClose(p wire.WriteStreamClosePacket) {
	r, ok := t.streams.Reader(p.StreamID)
	if !ok {
		t.invalidMessage(fmt.Errorf("transport: WriteStreamClose for unknown stream %v", p.StreamID))
		return
	}
	r.HandleWriteStreamClose(p.Code)
}

func (t *Transport) dispatchReadStreamClose(p wire.ReadStreamClosePacket) {
	w, ok := t.streams.Writer(p.StreamID)
	if !ok {
		t.invalidMessage(fmt.Errorf("transport: ReadStreamClose for unknown stream %v", p.StreamID))
		return
	}
	w.HandleReadStreamClose(p.Code)
}

// dispatchStreamChunk handles both StreamChunk and StreamEnd (the latter via
// an identical field shape, isEnd=true). An empty Data with JSON dataType
// means "no final chunk" (StreamEnd may omit it entirely).
func (t *Transport) dispatchStreamChunk(p wire.StreamChunkPacket, isEnd bool) {
	r, ok := t.streams.Reader(p.StreamID)
	if !ok {
		t.invalidMessage(fmt.Errorf("transport: StreamChunk/End for unknown stream %v", p.StreamID))
		return
	}
	if isEnd && p.DataType == wire.JSON && len(p.Data) == 0 {
		r.PushNow(streamengine.Chunk{IsEnd: true})
		return
	}

	ctx := t.decodeCtx()
	if !t.streams.ChunksCanContainStreams() {
		ctx.NewStream = func(sid float64) (value.StreamRef, error) {
			return nil, fmt.Errorf("transport: chunk on stream %v references a nested stream while chunksCanContainStreams=false", p.StreamID)
		}
	}

	resultCh := make(chan streamengine.Chunk, 1)
	r.PushDecode(resultCh)
	t.decodeAsync(p.DataType, p.Data, p.Meta, ctx, func(v value.Value, err error) {
		resultCh <- streamengine.Chunk{Value: v, HasValue: err == nil, IsEnd: isEnd, Err: err}
	})
}

// decodeAsync resolves a dataType/data/meta triple into a Value, awaiting
// the binary-content resolver first when the dataType carries one (spec
// §4.2 decode). deliver runs on whichever goroutine completes resolution:
// synchronously for data types with no binaries, or on the resolver's
// Feed/timeout goroutine otherwise.
func (t *Transport) decodeAsync(dataType wire.DataType, data, meta json.RawMessage, ctx value.DecodeContext, deliver func(value.Value, error)) {
	if !dataType.HasBinaries() {
		v, err := value.Decode(dataType, data, nil, ctx)
		deliver(v, err)
		return
	}

	// The pure-Binary shape carries its id in Data (value.Decode never reads
	// Data for that dataType); every JSON-family shape carries it in Meta.
	idField := meta
	if dataType == wire.Binary {
		idField = data
	}
	var id float64
	if err := json.Unmarshal(idField, &id); err != nil {
		deliver(value.Value{}, fmt.Errorf("transport: missing binary-content id: %w", err))
		return
	}
	err := t.resolver.Register(id, func(blobs [][]byte, err error) {
		if err != nil {
			deliver(value.Value{}, err)
			return
		}
		v, decErr := value.Decode(dataType, data, blobs, ctx)
		deliver(v, decErr)
	})
	if err != nil {
		deliver(value.Value{}, err)
	}
}

func (t *Transport) safeOnTransmit(receiver string, v value.Value) {
	if t.listeners.OnTransmit == nil {
		return
	}
	defer t.guardListener()
	t.listeners.OnTransmit(receiver, v)
}

func (t *Transport) safeOnInvoke(inv *Invoke) {
	if t.listeners.OnInvoke == nil {
		return
	}
	defer t.guardListener()
	t.listeners.OnInvoke(inv)
}

func (t *Transport) safeOnPing() {
	if t.listeners.OnPing == nil {
		return
	}
	defer t.guardListener()
	t.listeners.OnPing()
}

func (t *Transport) safeOnPong() {
	if t.listeners.OnPong == nil {
		return
	}
	defer t.guardListener()
	t.listeners.OnPong()
}

// guardListener catches a panicking listener and forwards it to
// onListenerError, per spec §4.6 "exceptions are caught and forwarded".
func (t *Transport) guardListener() {
	if r := recover(); r != nil {
		t.reportListenerError(fmt.Errorf("transport: listener panic: %v", r))
	}
}
