package decoder

import "errors"

// Domain errors for the decoder package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDecoderClosed is returned by Decode once the decoder has reached a
	// terminal state.
	ErrDecoderClosed = errors.New("decoder: closed")

	// ErrNotOpen is reported when bytes arrive before Open was called.
	ErrNotOpen = errors.New("decoder: data received before open")

	// ErrMalformedLength is reported when the remaining length uses more than
	// four bytes.
	ErrMalformedLength = errors.New("decoder: malformed remaining length")

	// ErrInvalidPacketType is reported for the reserved packet types 0 and 15.
	ErrInvalidPacketType = errors.New("decoder: invalid packet type")

	// ErrFrameTooLarge is reported when a frame exceeds the configured maximum size.
	ErrFrameTooLarge = errors.New("decoder: frame exceeds maximum size")

	// ErrLengthOutOfRange is returned by EncodeLength for values that cannot
	// be represented in four varint bytes.
	ErrLengthOutOfRange = errors.New("decoder: length out of range")
)
