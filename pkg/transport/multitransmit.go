package transport

import (
	"encoding/json"
	"sync/atomic"

	"github.com/duplexwire/duplexwire/internal/xerrors"
	"github.com/duplexwire/duplexwire/pkg/value"
	"github.com/duplexwire/duplexwire/pkg/wire"
)

// multiTransmitCounter is the independent negative id space Design Note §9
// calls for: a package-local atomic counter for multi-prepared binary
// content, distinct from any single Transport's binaryContentPacketId so
// concurrent multi-prepares never race a live connection's own allocator.
var multiTransmitCounter int64 = -1

func nextMultiTransmitID() float64 {
	return float64(atomic.AddInt64(&multiTransmitCounter, -1) + 1)
}

// MultiPackage is a Transmit package prepared once and replayable against
// many peers' sockets (spec §2 "Multi-transmit Helper"): no live streams are
// permitted, since a stream writer belongs to exactly one connection.
type MultiPackage struct {
	Head        []byte
	BinaryFrame []byte
}

// PrepareMultiTransmit encodes data once for broadcast to many peers. data
// must not embed a live stream (spec §2: "no live streams, binaries
// permitted").
func PrepareMultiTransmit(receiver string, data value.Value) (*MultiPackage, error) {
	dataType, tree, blobs, streams, err := value.Encode(data)
	if err != nil {
		return nil, wrapInvalidMessage(err)
	}
	if len(streams) > 0 {
		return nil, xerrors.InvalidMessage("transport: PrepareMultiTransmit forbids embedded live streams")
	}

	var dataRaw json.RawMessage
	var meta json.RawMessage
	var binaryFrame []byte
	switch dataType {
	case wire.Binary:
		id := nextMultiTransmitID()
		dataRaw, _ = json.Marshal(id)
		binaryFrame = wire.EncodeBinaryContentFrame(wire.BinaryContentFrame{ID: id, Blobs: blobs})
	default:
		dataRaw, _ = json.Marshal(tree)
		if len(blobs) > 0 {
			id := nextMultiTransmitID()
			meta, _ = json.Marshal(id)
			binaryFrame = wire.EncodeBinaryContentFrame(wire.BinaryContentFrame{ID: id, Blobs: blobs})
		}
	}

	p := wire.TransmitPacket{Receiver: receiver, DataType: dataType, Data: dataRaw, Meta: meta}
	head, err := wire.EncodeAction(p)
	if err != nil {
		return nil, wrapInvalidMessage(err)
	}
	return &MultiPackage{Head: head, BinaryFrame: binaryFrame}, nil
}

// SendTo dispatches a prepared MultiPackage to one peer's Transport,
// respecting its open/batch state like any other package.
func (mp *MultiPackage) SendTo(t *Transport, batch *BatchOptions) error {
	var frames [][]byte
	if mp.BinaryFrame != nil {
		frames = [][]byte{mp.BinaryFrame}
	}
	return t.sendPackage(&Package{Head: mp.Head, BinaryFrames: frames}, batch)
}
