package wire

import "errors"

// Sentinel errors for the framing layer. Callers typically wrap these into
// internal/xerrors values that carry the spec's error category alongside them.
var (
	// ErrInvalidMessage covers framing/parse errors and type mismatches.
	ErrInvalidMessage = errors.New("wire: invalid message")

	// ErrMaxSupportedArrayBufferSizeExceeded is returned when a blob exceeds
	// MaxSupportedArrayBufferSize and cannot be encoded.
	ErrMaxSupportedArrayBufferSizeExceeded = errors.New("wire: blob exceeds max supported array buffer size")

	// ErrCyclicValue is returned by the value codec when a deep-walk nests
	// deeper than value.MaxValueDepth, its stand-in for cycle detection.
	ErrCyclicValue = errors.New("wire: value graph contains a cycle")

	// ErrDuplicateResolver is raised when a binary-content resolver is
	// created for an id that already has one outstanding.
	ErrDuplicateResolver = errors.New("wire: duplicate binary-content resolver")
)
