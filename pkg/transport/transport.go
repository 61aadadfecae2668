// Package transport implements the Transport Controller: the glue gluing
// framing, the value codec, the binary-content resolver, the invoke
// registry, and the stream engine into the public Transmit/Invoke surface,
// connection lifecycle, and bad-connection propagation (spec §4.6).
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duplexwire/duplexwire/internal/config"
	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/binarycontent"
	"github.com/duplexwire/duplexwire/pkg/invokereg"
	"github.com/duplexwire/duplexwire/pkg/streamengine"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// MaxBinaryContentID mirrors the safe-integer ceiling the outbound
// binaryContentPacketId counter wraps at.
const MaxBinaryContentID float64 = (1 << 53) - 1

// Listeners are the inbound delivery hooks (spec §4.6). Any hook may be nil.
type Listeners struct {
	OnTransmit       func(receiver string, data value.Value)
	OnInvoke         func(inv *Invoke)
	OnPing           func()
	OnPong           func()
	OnInvalidMessage func(err error)
	OnListenerError  func(err error)
}

// Option configures a Transport at construction.
type Option func(*Transport)

func WithLogger(l *slog.Logger) Option { return func(t *Transport) { t.logger = l } }
func WithListeners(l Listeners) Option { return func(t *Transport) { t.listeners = l } }
func WithErrorCodec(c ErrorCodec) Option { return func(t *Transport) { t.errorCodec = c } }
func WithInstrumentation(i Instrumentation) Option { return func(t *Transport) { t.instrumentation = i } }
func WithTracer(tr Tracer) Option { return func(t *Transport) { t.tracer = tr } }
func WithPackageBuffer(b PackageBuffer) Option { return func(t *Transport) { t.buffer = b } }

// Transport is one side of a duplex connection: the shared state every
// inbound/outbound operation reads and mutates.
type Transport struct {
	mu   sync.Mutex
	open bool

	badConnectionStamp uint64 // atomic

	socket Socket
	buffer PackageBuffer
	logger *slog.Logger
	opts   config.Options

	resolver *binarycontent.Resolver
	calls    *invokereg.Registry
	streams  *streamengine.Engine

	nextBinaryContentID float64

	listeners       Listeners
	errorCodec      ErrorCodec
	instrumentation Instrumentation
	tracer          Tracer
}

// New constructs a Transport bound to socket, not yet open. Call
// emitConnection once the socket is ready to carry traffic.
func New(socket Socket, opts config.Options, options ...Option) *Transport {
	t := &Transport{
		socket:     socket,
		opts:       opts,
		logger:     slog.Default(),
		errorCodec: defaultErrorCodec{},
		resolver:   binarycontent.New(opts.BinaryContentPacketTimeout()),
		calls:      invokereg.New(opts.ResponseTimeout()),
	}
	t.streams = streamengine.New(socket, opts.ChunksCanContainStreams)
	t.buffer = newDefaultPackageBuffer(BatchOptions{}, t.sendNowIgnoringError, t.bundlePackages)
	for _, o := range options {
		o(t)
	}
	return t
}

// Open reports whether the transport currently considers its connection live.
func (t *Transport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// HandleMessage feeds one raw frame read off the socket into the dispatcher.
// The socket implementation's read loop calls this for every inbound frame.
func (t *Transport) HandleMessage(raw []byte, isBinary bool) { t.emitMessage(raw, isBinary) }

// MarkConnected opens the transport and flushes anything buffered while it
// was down. Call once the underlying socket is ready to carry traffic.
func (t *Transport) MarkConnected() { t.emitConnection() }

// MarkDisconnected closes the transport and cancels every pending resolver,
// invoke, and stream, per spec §4.6. Call from the socket's read-loop
// error/close path.
func (t *Transport) MarkDisconnected(connType, msg string) { t.emitBadConnection(connType, msg) }

func (t *Transport) currentStamp() uint64 { return atomic.LoadUint64(&t.badConnectionStamp) }

// decodeCtx builds the per-decode collaborator bundle: NewStream binds a
// decoded {_s:sid} placeholder or Stream dataType to a live read-side stream.
func (t *Transport) decodeCtx() value.DecodeContext {
	return value.DecodeContext{
		StreamsPerPackageLimit: t.opts.StreamsPerPackageLimit,
		NewStream: func(sid float64) (value.StreamRef, error) {
			if !t.opts.StreamsEnabled {
				return nil, xerrors.InvalidMessage("transport: inbound stream reference while streamsEnabled=false")
			}
			r := t.streams.RegisterReader(sid, func(delta int64) { t.sendStreamDataPermission(sid, delta) })
			r.MarkOpen()
			t.sendStreamAccept(sid, t.opts.InitialStreamCredit)
			return r, nil
		},
	}
}

// allocBinaryContentID assigns the next outbound binary-content id. Unlike
// callId/streamId this counter has no "outstanding" set to skip: the id's
// only job is to label the one out-of-band frame sent alongside this
// package, and it is never looked up again on this side afterward, so a
// bare wrap is sufficient (see DESIGN.md).
func (t *Transport) allocBinaryContentID() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextBinaryContentID
	t.nextBinaryContentID++
	if t.nextBinaryContentID > MaxBinaryContentID {
		t.nextBinaryContentID = 0
	}
	return id
}

// TransmitOptions configures a single Transmit call.
type TransmitOptions struct {
	Batch               *BatchOptions
	ProcessComplexTypes *bool // nil means true; false forbids embedded streams/blobs
}

// Transmit is fire-and-forget delivery to receiver (spec §4.6).
func (t *Transport) Transmit(receiver string, data value.Value, opts TransmitOptions) error {
	pack, err := t.prepareTransmit(receiver, data, opts)
	if err != nil {
		return err
	}
	return t.sendPackage(pack, opts.Batch)
}

func (t *Transport) prepareTransmit(receiver string, data value.Value, opts TransmitOptions) (*Package, error) {
	dataType, tree, blobs, streams, err := t.encodeForWire(data, opts.ProcessComplexTypes == nil || *opts.ProcessComplexTypes)
	if err != nil {
		return nil, err
	}

	wireData, meta, binaryFrames := t.materializeBlobs(dataType, tree, blobs)
	p := wire.TransmitPacket{Receiver: receiver, DataType: dataType, Data: wireData, Meta: meta}
	head, err := wire.EncodeAction(p)
	if err != nil {
		return nil, wrapInvalidMessage(err)
	}

	return &Package{
		Head:         head,
		BinaryFrames: binaryFrames,
		AfterSend:    t.markStreamsSent(streams),
	}, nil
}

// InvokeOptions configures a single Invoke call.
type InvokeOptions struct {
	Batch               *BatchOptions
	ProcessComplexTypes *bool // nil means true; false forbids embedded streams/blobs
	Timeout            time.Duration // 0 = use responseTimeout
	ReturnDataType      bool
}

// Invoke sends an Invoke packet and blocks until the response arrives,
// times out, or ctx is cancelled (spec §4.4/§4.6).
func (t *Transport) Invoke(ctx context.Context, procedure string, data value.Value, opts InvokeOptions) (value.Value, wire.DataType, error) {
	pack, call, err := t.prepareInvoke(procedure, data, opts)
	if err != nil {
		return value.Value{}, 0, err
	}
	var endSpan func(error)
	if t.tracer != nil {
		endSpan = t.tracer.StartInvoke(procedure, call.CallID)
	}
	start := time.Now()

	if err := t.sendPackage(pack, opts.Batch); err != nil {
		if endSpan != nil {
			endSpan(err)
		}
		return value.Value{}, 0, err
	}

	v, dt, err := call.Wait(ctx)
	if t.instrumentation != nil {
		t.instrumentation.ObserveInvokeLatency(procedure, time.Since(start).Seconds(), err == nil)
	}
	if endSpan != nil {
		endSpan(err)
	}
	return v, dt, err
}

func (t *Transport) prepareInvoke(procedure string, data value.Value, opts InvokeOptions) (*Package, *invokereg.Call, error) {
	dataType, tree, blobs, streams, err := t.encodeForWire(data, opts.ProcessComplexTypes == nil || *opts.ProcessComplexTypes)
	if err != nil {
		return nil, nil, err
	}

	call := t.calls.PrepareInvoke(opts.ReturnDataType, opts.Timeout)

	wireData, meta, binaryFrames := t.materializeBlobs(dataType, tree, blobs)
	p := wire.InvokePacket{Procedure: procedure, CallID: call.CallID, DataType: dataType, Data: wireData, Meta: meta}
	head, err := wire.EncodeAction(p)
	if err != nil {
		return nil, nil, wrapInvalidMessage(err)
	}

	markSent := t.markStreamsSent(streams)
	pack := &Package{
		Head:         head,
		BinaryFrames: binaryFrames,
		AfterSend: func() {
			if markSent != nil {
				markSent()
			}
			t.calls.AfterSend(call.CallID, streams)
		},
	}
	return pack, call, nil
}

// encodeForWire runs the value codec, honoring ProcessComplexTypes=false
// (spec §4.6: "forbids embedded streams and blobs; payload is treated as
// pure JSON") and streamsEnabled=false (spec §6: outbound streams inline
// via toJSON instead — here, rejected outright, since this port's Value
// variant has no ergonomic inline fallback for a live stream; see
// DESIGN.md).
func (t *Transport) encodeForWire(data value.Value, processComplexTypes bool) (wire.DataType, interface{}, [][]byte, []value.StreamRef, error) {
	if !processComplexTypes && (data.Kind() == value.KindBlob || data.Kind() == value.KindStream) {
		return 0, nil, nil, nil, xerrors.InvalidMessage("transport: processComplexTypes=false forbids a top-level blob/stream payload")
	}
	dataType, tree, blobs, streams, err := value.Encode(data)
	if err != nil {
		return 0, nil, nil, nil, wrapInvalidMessage(err)
	}
	if !processComplexTypes && (dataType.HasBinaries() || dataType.HasStreams()) {
		return 0, nil, nil, nil, xerrors.InvalidMessage("transport: processComplexTypes=false forbids embedded streams/blobs")
	}
	if !t.opts.StreamsEnabled && len(streams) > 0 {
		return 0, nil, nil, nil, xerrors.InvalidMessage("transport: streamsEnabled=false forbids outbound stream payloads")
	}
	return dataType, tree, blobs, streams, nil
}

// materializeBlobs turns the codec's (tree, blobs) pair into the wire-ready
// (data, meta, binaryFrames) triple per the four shapes of spec §4.2.
func (t *Transport) materializeBlobs(dataType wire.DataType, tree interface{}, blobs [][]byte) (data, meta json.RawMessage, binaryFrames [][]byte) {
	switch dataType {
	case wire.Binary:
		id := t.allocBinaryContentID()
		data, _ = json.Marshal(id)
		binaryFrames = [][]byte{wire.EncodeBinaryContentFrame(wire.BinaryContentFrame{ID: id, Blobs: blobs})}
		return data, nil, binaryFrames
	case wire.Stream:
		data, _ = json.Marshal(tree)
		return data, nil, nil
	default:
		data, _ = json.Marshal(tree)
		if len(blobs) > 0 {
			id := t.allocBinaryContentID()
			meta, _ = json.Marshal(id)
			binaryFrames = [][]byte{wire.EncodeBinaryContentFrame(wire.BinaryContentFrame{ID: id, Blobs: blobs})}
		}
		return data, meta, binaryFrames
	}
}

// markStreamsSent returns an AfterSend fragment transitioning every
// collected stream writer Created -> AwaitingAccept (spec §4.2 shape 3/4).
func (t *Transport) markStreamsSent(streams []value.StreamRef) func() {
	if len(streams) == 0 {
		return nil
	}
	return func() {
		for _, s := range streams {
			if w, ok := s.(interface{ MarkSent() }); ok {
				w.MarkSent()
			}
		}
	}
}

func (t *Transport) sendStreamAccept(streamID float64, initialCredit int64) {
	p := wire.StreamAcceptPacket{StreamID: streamID, InitialCredit: float64(initialCredit)}
	t.sendControlPacket(p)
}

func (t *Transport) sendStreamDataPermission(streamID float64, delta int64) {
	p := wire.StreamDataPermissionPacket{StreamID: streamID, AdditionalCredit: float64(delta)}
	t.sendControlPacket(p)
}

func (t *Transport) sendWriteStreamClose(streamID float64, code float64) {
	t.sendControlPacket(wire.WriteStreamClosePacket{StreamID: streamID, Code: code})
}

func (t *Transport) sendReadStreamClose(streamID float64, code float64) {
	t.sendControlPacket(wire.ReadStreamClosePacket{StreamID: streamID, Code: code})
}

func (t *Transport) sendControlPacket(p wire.Action) {
	head, err := wire.EncodeAction(p)
	if err != nil {
		t.reportListenerError(err)
		return
	}
	_ = t.sendPackage(&Package{Head: head}, nil)
}

func (t *Transport) sendInvokeDataResp(callID float64, data value.Value) {
	dataType, tree, blobs, streams, err := value.Encode(data)
	if err != nil {
		t.reportListenerError(err)
		return
	}
	wireData, meta, binaryFrames := t.materializeBlobs(dataType, tree, blobs)
	p := wire.InvokeDataRespPacket{CallID: callID, DataType: dataType, Data: wireData, Meta: meta}
	head, err := wire.EncodeAction(p)
	if err != nil {
		t.reportListenerError(err)
		return
	}
	_ = t.sendPackage(&Package{Head: head, BinaryFrames: binaryFrames, AfterSend: t.markStreamsSent(streams)}, nil)
}

func (t *Transport) sendInvokeErrResp(callID float64, err error) {
	p := wire.InvokeErrRespPacket{CallID: callID, RawErr: t.errorCodec.Dehydrate(err)}
	head, encErr := wire.EncodeAction(p)
	if encErr != nil {
		t.reportListenerError(encErr)
		return
	}
	_ = t.sendPackage(&Package{Head: head}, nil)
}

func (t *Transport) reportListenerError(err error) {
	if t.listeners.OnListenerError == nil {
		return
	}
	defer func() { recover() }()
	t.listeners.OnListenerError(err)
}

func (t *Transport) invalidMessage(err error) {
	if t.instrumentation != nil {
		t.instrumentation.IncInvalidMessage()
	}
	t.logger.Warn("invalid message", "error", err)
	if t.listeners.OnInvalidMessage == nil {
		return
	}
	defer func() { recover() }()
	t.listeners.OnInvalidMessage(wrapInvalidMessage(err))
}

// wrapInvalidMessage lifts a lower-layer error (wire/value/decode) into the
// CategoryInvalidMessage taxonomy kind (spec §7).
func wrapInvalidMessage(err error) *xerrors.Error {
	return xerrors.Wrap(xerrors.CategoryInvalidMessage, err, "")
}
