package wire

import (
	"encoding/json"
	"fmt"
)

// Action is any non-bundle or bundle protocol packet parsed from a text frame.
type Action interface {
	ActionType() PacketType
}

type BundlePacket struct{ Actions []Action }

func (BundlePacket) ActionType() PacketType { return Bundle }

type TransmitPacket struct {
	Receiver string
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (TransmitPacket) ActionType() PacketType { return Transmit }

type InvokePacket struct {
	Procedure string
	CallID    float64
	DataType  DataType
	Data      json.RawMessage
	Meta      json.RawMessage
}

func (InvokePacket) ActionType() PacketType { return Invoke }

type InvokeDataRespPacket struct {
	CallID   float64
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (InvokeDataRespPacket) ActionType() PacketType { return InvokeDataResp }

type InvokeErrRespPacket struct {
	CallID float64
	RawErr json.RawMessage
}

func (InvokeErrRespPacket) ActionType() PacketType { return InvokeErrResp }

type StreamAcceptPacket struct {
	StreamID      float64
	InitialCredit float64
}

func (StreamAcceptPacket) ActionType() PacketType { return StreamAccept }

type StreamChunkPacket struct {
	StreamID float64
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (StreamChunkPacket) ActionType() PacketType { return StreamChunk }

type StreamEndPacket struct {
	StreamID float64
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (StreamEndPacket) ActionType() PacketType { return StreamEnd }

type StreamDataPermissionPacket struct {
	StreamID         float64
	AdditionalCredit float64
}

func (StreamDataPermissionPacket) ActionType() PacketType { return StreamDataPermission }

type WriteStreamClosePacket struct {
	StreamID float64
	Code     float64
}

func (WriteStreamClosePacket) ActionType() PacketType { return WriteStreamClose }

// ReadStreamCloseDefaultCode is used when a ReadStreamClose packet omits its
// trailing code field ("End").
const ReadStreamCloseDefaultCode = 200

type ReadStreamClosePacket struct {
	StreamID float64
	Code     float64
}

func (ReadStreamClosePacket) ActionType() PacketType { return ReadStreamClose }

// ParseFrame decodes a raw text frame into one or more Action packets.
// The wire form is a bare comma-separated tuple; it is wrapped in "[" … "]"
// before parsing. A Bundle packet's second field is itself an array of
// fully-bracketed Action tuples, each parsed recursively.
func ParseFrame(raw []byte) ([]Action, error) {
	wrapped := make([]byte, 0, len(raw)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, ']')

	var tuple []json.RawMessage
	if err := json.Unmarshal(wrapped, &tuple); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", ErrInvalidMessage)
	}
	if len(tuple) == 0 {
		return nil, fmt.Errorf("wire: empty frame: %w", ErrInvalidMessage)
	}

	typ, err := decodePacketType(tuple[0])
	if err != nil {
		return nil, err
	}

	if typ == Bundle {
		if len(tuple) < 2 {
			return nil, fmt.Errorf("wire: Bundle missing action list: %w", ErrInvalidMessage)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(tuple[1], &items); err != nil {
			return nil, fmt.Errorf("wire: malformed Bundle action list: %w", ErrInvalidMessage)
		}
		actions := make([]Action, 0, len(items))
		for _, item := range items {
			var itemTuple []json.RawMessage
			if err := json.Unmarshal(item, &itemTuple); err != nil {
				return nil, fmt.Errorf("wire: malformed bundled action: %w", ErrInvalidMessage)
			}
			a, err := decodeAction(itemTuple)
			if err != nil {
				return nil, err
			}
			actions = append(actions, a)
		}
		return actions, nil
	}

	a, err := decodeAction(tuple)
	if err != nil {
		return nil, err
	}
	return []Action{a}, nil
}

func decodePacketType(raw json.RawMessage) (PacketType, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("wire: packet type is not numeric: %w", ErrInvalidMessage)
	}
	return PacketType(n), nil
}

// field reads tuple[i] into dst, leaving dst at its zero value when the
// tuple has been truncated at a trailing-optional field.
func field(tuple []json.RawMessage, i int, dst interface{}) error {
	if i >= len(tuple) {
		return nil
	}
	if err := json.Unmarshal(tuple[i], dst); err != nil {
		return fmt.Errorf("wire: field %d: %w", i, ErrInvalidMessage)
	}
	return nil
}

func rawField(tuple []json.RawMessage, i int) json.RawMessage {
	if i >= len(tuple) {
		return nil
	}
	return tuple[i]
}

func decodeAction(tuple []json.RawMessage) (Action, error) {
	if len(tuple) == 0 {
		return nil, fmt.Errorf("wire: empty action tuple: %w", ErrInvalidMessage)
	}
	typ, err := decodePacketType(tuple[0])
	if err != nil {
		return nil, err
	}
	switch typ {
	case Transmit:
		var p TransmitPacket
		var dt int
		if err := field(tuple, 1, &p.Receiver); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &dt); err != nil {
			return nil, err
		}
		p.DataType = DataType(dt)
		p.Data = rawField(tuple, 3)
		p.Meta = rawField(tuple, 4)
		return p, nil
	case Invoke:
		var p InvokePacket
		var dt int
		if err := field(tuple, 1, &p.Procedure); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &p.CallID); err != nil {
			return nil, err
		}
		if err := field(tuple, 3, &dt); err != nil {
			return nil, err
		}
		p.DataType = DataType(dt)
		p.Data = rawField(tuple, 4)
		p.Meta = rawField(tuple, 5)
		return p, nil
	case InvokeDataResp:
		var p InvokeDataRespPacket
		var dt int
		if err := field(tuple, 1, &p.CallID); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &dt); err != nil {
			return nil, err
		}
		p.DataType = DataType(dt)
		p.Data = rawField(tuple, 3)
		p.Meta = rawField(tuple, 4)
		return p, nil
	case InvokeErrResp:
		var p InvokeErrRespPacket
		if err := field(tuple, 1, &p.CallID); err != nil {
			return nil, err
		}
		p.RawErr = rawField(tuple, 2)
		return p, nil
	case StreamAccept:
		var p StreamAcceptPacket
		if err := field(tuple, 1, &p.StreamID); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &p.InitialCredit); err != nil {
			return nil, err
		}
		return p, nil
	case StreamChunk:
		var p StreamChunkPacket
		var dt int
		if err := field(tuple, 1, &p.StreamID); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &dt); err != nil {
			return nil, err
		}
		p.DataType = DataType(dt)
		p.Data = rawField(tuple, 3)
		p.Meta = rawField(tuple, 4)
		return p, nil
	case StreamEnd:
		var p StreamEndPacket
		var dt int
		if err := field(tuple, 1, &p.StreamID); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &dt); err != nil {
			return nil, err
		}
		p.DataType = DataType(dt)
		p.Data = rawField(tuple, 3)
		p.Meta = rawField(tuple, 4)
		return p, nil
	case StreamDataPermission:
		var p StreamDataPermissionPacket
		if err := field(tuple, 1, &p.StreamID); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &p.AdditionalCredit); err != nil {
			return nil, err
		}
		return p, nil
	case WriteStreamClose:
		var p WriteStreamClosePacket
		if err := field(tuple, 1, &p.StreamID); err != nil {
			return nil, err
		}
		if err := field(tuple, 2, &p.Code); err != nil {
			return nil, err
		}
		return p, nil
	case ReadStreamClose:
		p := ReadStreamClosePacket{Code: ReadStreamCloseDefaultCode}
		if err := field(tuple, 1, &p.StreamID); err != nil {
			return nil, err
		}
		var code *float64
		if err := field(tuple, 2, &code); err != nil {
			return nil, err
		}
		if code != nil {
			p.Code = *code
		}
		return p, nil
	default:
		return nil, fmt.Errorf("wire: unknown packet type %d: %w", int(typ), ErrInvalidMessage)
	}
}

// EncodeAction serializes a into its bare comma-separated tuple form (no
// enclosing brackets) for use as a standalone text frame.
func EncodeAction(a Action) ([]byte, error) {
	full, err := encodeActionArray(a)
	if err != nil {
		return nil, err
	}
	if len(full) < 2 || full[0] != '[' || full[len(full)-1] != ']' {
		return nil, fmt.Errorf("wire: encoded action was not an array")
	}
	return full[1 : len(full)-1], nil
}

// encodeActionArray serializes a as a complete bracketed JSON array,
// trimming trailing nil optional fields.
func encodeActionArray(a Action) ([]byte, error) {
	tuple, err := actionTuple(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tuple)
}

func actionTuple(a Action) ([]interface{}, error) {
	switch p := a.(type) {
	case BundlePacket:
		items := make([]json.RawMessage, 0, len(p.Actions))
		for _, sub := range p.Actions {
			raw, err := encodeActionArray(sub)
			if err != nil {
				return nil, err
			}
			items = append(items, raw)
		}
		return []interface{}{Bundle, items}, nil
	case TransmitPacket:
		t := []interface{}{Transmit, p.Receiver, p.DataType}
		return trimOptional(t, p.Meta, p.Data), nil
	case InvokePacket:
		t := []interface{}{Invoke, p.Procedure, p.CallID, p.DataType}
		return trimOptional(t, p.Meta, p.Data), nil
	case InvokeDataRespPacket:
		t := []interface{}{InvokeDataResp, p.CallID, p.DataType}
		return trimOptional(t, p.Meta, p.Data), nil
	case InvokeErrRespPacket:
		return []interface{}{InvokeErrResp, p.CallID, rawOrNull(p.RawErr)}, nil
	case StreamAcceptPacket:
		return []interface{}{StreamAccept, p.StreamID, p.InitialCredit}, nil
	case StreamChunkPacket:
		t := []interface{}{StreamChunk, p.StreamID, p.DataType}
		return trimOptional(t, p.Meta, p.Data), nil
	case StreamEndPacket:
		t := []interface{}{StreamEnd, p.StreamID, p.DataType}
		return trimOptional(t, p.Meta, p.Data), nil
	case StreamDataPermissionPacket:
		return []interface{}{StreamDataPermission, p.StreamID, p.AdditionalCredit}, nil
	case WriteStreamClosePacket:
		return []interface{}{WriteStreamClose, p.StreamID, p.Code}, nil
	case ReadStreamClosePacket:
		return []interface{}{ReadStreamClose, p.StreamID, p.Code}, nil
	default:
		return nil, fmt.Errorf("wire: unknown action type %T", a)
	}
}

func rawOrNull(raw json.RawMessage) interface{} {
	if raw == nil {
		return nil
	}
	return raw
}

// trimOptional appends data then meta (in that wire order: data precedes
// meta in every packet field list) and drops trailing absent fields.
func trimOptional(head []interface{}, meta, data json.RawMessage) []interface{} {
	tail := []json.RawMessage{data, meta}
	end := len(tail)
	for end > 0 && tail[end-1] == nil {
		end--
	}
	for _, v := range tail[:end] {
		head = append(head, rawOrNull(v))
	}
	return head
}
