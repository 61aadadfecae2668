// Package wire implements the framing and opcode layer of the duplexwire
// transport: classifying inbound frames, building outbound headers, and the
// small byte-buffer helpers the binary frame paths need.
package wire

import "fmt"

// PacketType is the first element of every wire packet, text or binary.
// Values are stable wire constants; do not renumber.
type PacketType int

const (
	Bundle PacketType = iota
	Transmit
	Invoke
	InvokeDataResp
	InvokeErrResp
	BinaryContent
	StreamAccept
	StreamChunk
	StreamEnd
	StreamDataPermission
	WriteStreamClose
	ReadStreamClose
)

func (t PacketType) String() string {
	switch t {
	case Bundle:
		return "Bundle"
	case Transmit:
		return "Transmit"
	case Invoke:
		return "Invoke"
	case InvokeDataResp:
		return "InvokeDataResp"
	case InvokeErrResp:
		return "InvokeErrResp"
	case BinaryContent:
		return "BinaryContent"
	case StreamAccept:
		return "StreamAccept"
	case StreamChunk:
		return "StreamChunk"
	case StreamEnd:
		return "StreamEnd"
	case StreamDataPermission:
		return "StreamDataPermission"
	case WriteStreamClose:
		return "WriteStreamClose"
	case ReadStreamClose:
		return "ReadStreamClose"
	default:
		return fmt.Sprintf("PacketType(%d)", int(t))
	}
}

// DataType enumerates how an action packet's data field is to be interpreted.
type DataType int

const (
	JSON DataType = iota
	Binary
	Stream
	JSONWithBinaries
	JSONWithStreams
	JSONWithStreamsAndBinaries
)

func (d DataType) String() string {
	switch d {
	case JSON:
		return "JSON"
	case Binary:
		return "Binary"
	case Stream:
		return "Stream"
	case JSONWithBinaries:
		return "JSONWithBinaries"
	case JSONWithStreams:
		return "JSONWithStreams"
	case JSONWithStreamsAndBinaries:
		return "JSONWithStreamsAndBinaries"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// HasBinaries reports whether this data type carries a binary-content id: in
// data for Binary, in meta for the JSON-family shapes.
func (d DataType) HasBinaries() bool {
	return d == Binary || d == JSONWithBinaries || d == JSONWithStreamsAndBinaries
}

// HasStreams reports whether this data type carries embedded stream placeholders.
func (d DataType) HasStreams() bool {
	return d == Stream || d == JSONWithStreams || d == JSONWithStreamsAndBinaries
}

// Control bytes: single-byte binary frames outside the packet-type space.
const (
	Ping byte = 0x39 // 57
	Pong byte = 0x41 // 65
)

// NextBinariesPacketToken is the length sentinel marking a binary-content
// frame as continued by a subsequent frame sharing the same id.
const NextBinariesPacketToken uint32 = 0xFFFFFFFF

// MaxSupportedArrayBufferSize is the largest single blob this wire format can
// carry: a uint32 length field, minus the one value reserved for the
// continuation sentinel.
const MaxSupportedArrayBufferSize = uint32(0xFFFFFFFF) - 1
