package wire

import "fmt"

// BinaryFrameKind classifies an inbound binary frame per §4.1.
type BinaryFrameKind int

const (
	FramePing BinaryFrameKind = iota
	FramePong
	FrameBinaryContent
	FrameStreamChunk
	FrameStreamEnd
)

// ClassifyBinary inspects the first byte(s) of an inbound binary frame and
// reports its kind. Any frame that is not a length-1 PING/PONG and does not
// start with one of BinaryContent/StreamChunk/StreamEnd is ErrInvalidMessage.
func ClassifyBinary(b []byte) (BinaryFrameKind, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("wire: empty binary frame: %w", ErrInvalidMessage)
	}
	if len(b) == 1 {
		switch b[0] {
		case Ping:
			return FramePing, nil
		case Pong:
			return FramePong, nil
		}
	}
	switch PacketType(b[0]) {
	case BinaryContent:
		return FrameBinaryContent, nil
	case StreamChunk:
		return FrameStreamChunk, nil
	case StreamEnd:
		return FrameStreamEnd, nil
	}
	return 0, fmt.Errorf("wire: invalid binary frame header byte %d: %w", b[0], ErrInvalidMessage)
}

// BinaryContentFrame is the out-of-band frame carrying one or more blobs
// referenced by id from a text packet (§6 "Wire — binary content frame").
type BinaryContentFrame struct {
	ID        float64
	Blobs     [][]byte
	Continued bool // true if the frame ends with NextBinariesPacketToken
}

// EncodeBinaryContentFrame builds `[0]=BinaryContent, [1..9]=float64 id,
// then repeated (uint32 len, len bytes) blobs`, optionally followed by the
// continuation sentinel after the last blob.
func EncodeBinaryContentFrame(f BinaryContentFrame) []byte {
	e := NewEncoderWithCap(16 + 8*len(f.Blobs))
	e.WriteByte(byte(BinaryContent))
	e.WriteFloat64(f.ID)
	for _, blob := range f.Blobs {
		e.WriteLenBytes(blob)
	}
	if f.Continued {
		e.WriteUint32(NextBinariesPacketToken)
	}
	return e.Bytes()
}

// DecodeBinaryContentFrame parses a whole binary-content frame, type byte
// included; the type byte is checked again here.
func DecodeBinaryContentFrame(b []byte) (BinaryContentFrame, error) {
	d := NewDecoder(b)
	typ, err := d.ReadByte()
	if err != nil {
		return BinaryContentFrame{}, err
	}
	if PacketType(typ) != BinaryContent {
		return BinaryContentFrame{}, fmt.Errorf("wire: not a BinaryContent frame: %w", ErrInvalidMessage)
	}
	id, err := d.ReadFloat64()
	if err != nil {
		return BinaryContentFrame{}, err
	}
	f := BinaryContentFrame{ID: id}
	for !d.EOF() {
		blob, sentinel, err := d.ReadLenBytes()
		if err != nil {
			return BinaryContentFrame{}, err
		}
		if sentinel {
			f.Continued = true
			break
		}
		f.Blobs = append(f.Blobs, blob)
	}
	return f, nil
}

// StreamFrame is the binary form of a StreamChunk or StreamEnd: `[0]=type,
// [1..9]=float64 stream id, [9..]=payload bytes` (§6).
type StreamFrame struct {
	Type     PacketType // StreamChunk or StreamEnd
	StreamID float64
	Payload  []byte
}

// EncodeStreamFrame builds the binary stream chunk/end frame.
func EncodeStreamFrame(f StreamFrame) []byte {
	e := NewEncoderWithCap(9 + len(f.Payload))
	e.WriteByte(byte(f.Type))
	e.WriteFloat64(f.StreamID)
	e.WriteBytes(f.Payload)
	return e.Bytes()
}

// DecodeStreamFrame parses a binary stream chunk/end frame body.
func DecodeStreamFrame(b []byte) (StreamFrame, error) {
	d := NewDecoder(b)
	typ, err := d.ReadByte()
	if err != nil {
		return StreamFrame{}, err
	}
	if PacketType(typ) != StreamChunk && PacketType(typ) != StreamEnd {
		return StreamFrame{}, fmt.Errorf("wire: not a stream chunk/end frame: %w", ErrInvalidMessage)
	}
	id, err := d.ReadFloat64()
	if err != nil {
		return StreamFrame{}, err
	}
	payload, err := d.ReadBytes(d.Remaining())
	if err != nil {
		return StreamFrame{}, err
	}
	return StreamFrame{Type: PacketType(typ), StreamID: id, Payload: payload}, nil
}

// CheckBlobSize enforces MaxSupportedArrayBufferSize on a single blob.
func CheckBlobSize(blob []byte) error {
	if uint64(len(blob)) > uint64(MaxSupportedArrayBufferSize) {
		return ErrMaxSupportedArrayBufferSizeExceeded
	}
	return nil
}
