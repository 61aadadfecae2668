package wire

import "math"

// Encoder builds a binary frame body by appending fixed-width, big-endian
// fields. It is the out-of-band binary-frame counterpart to the JSON codec
// used for text packets.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a small pre-sized buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// NewEncoderWithCap returns an Encoder whose buffer starts with the given capacity.
func NewEncoderWithCap(cap int) *Encoder {
	return &Encoder{buf: make([]byte, 0, cap)}
}

// Bytes returns the accumulated buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// WriteByte appends a single byte.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes with no length prefix.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteUint32 appends a big-endian uint32.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf,
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteFloat64 appends a big-endian IEEE-754 float64, matching the wire
// form used for binary-content ids and stream ids in binary frame headers.
func (e *Encoder) WriteFloat64(v float64) {
	bits := math.Float64bits(v)
	e.buf = append(e.buf,
		byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}

// WriteLenBytes appends a uint32 length prefix followed by the bytes.
func (e *Encoder) WriteLenBytes(b []byte) {
	e.WriteUint32(uint32(len(b)))
	e.WriteBytes(b)
}
