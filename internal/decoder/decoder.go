package decoder

import "fmt"

// State is the current position of a Decoder in the framing state machine.
type State int

// Decoder states. Only the last three are terminal.
const (
	StateInitializing State = iota
	StateDecodingHeader
	StateDecodingLength
	StateDecodingData
	StateConnectionClosed
	StateConnectionError
	StateProtocolError
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateDecodingHeader:
		return "decoding_header"
	case StateDecodingLength:
		return "decoding_length"
	case StateDecodingData:
		return "decoding_data"
	case StateConnectionClosed:
		return "connection_closed"
	case StateConnectionError:
		return "connection_error"
	case StateProtocolError:
		return "protocol_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the decoder accepts no further input in this state.
func (s State) Terminal() bool {
	return s >= StateConnectionClosed
}

// Event is reported to the Handler exactly once, when the decoder enters a
// terminal state.
type Event int

// Decoder events.
const (
	EventProtocolError Event = iota
	EventConnectionClosed
	EventConnectionError
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case EventProtocolError:
		return "protocol_error"
	case EventConnectionClosed:
		return "connection_closed"
	case EventConnectionError:
		return "connection_error"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Frame is one complete MQTT control packet as it appeared on the wire,
// minus the remaining length field.
type Frame struct {
	// Header is the first fixed-header byte: type in the high nibble,
	// flags in the low nibble.
	Header byte

	// Payload holds the variable header and payload, exactly
	// "remaining length" bytes.
	Payload []byte
}

// Type returns the MQTT control packet type (1-14).
func (f Frame) Type() byte {
	return f.Header >> 4
}

// Flags returns the fixed-header flag nibble.
func (f Frame) Flags() byte {
	return f.Header & 0x0F
}

// Handler receives decoded frames and terminal events.
type Handler interface {
	// HandleFrame is called for every complete frame, in stream order.
	// The frame's payload is owned by the handler.
	HandleFrame(f Frame)

	// HandleEvent is called once when the decoder reaches a terminal state.
	// err describes the cause and may be nil for a clean close.
	HandleEvent(e Event, err error)
}

// initialBufferCap bounds the up-front allocation for a frame body so a
// hostile length field cannot force a large allocation before data arrives.
const initialBufferCap = 64 << 10

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxFrameSize rejects frames whose remaining length exceeds n bytes.
// Zero means no limit beyond the protocol maximum.
func WithMaxFrameSize(n int) Option {
	return func(d *Decoder) {
		d.maxFrameSize = n
	}
}

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	handler      Handler
	maxFrameSize int

	state       State
	header      byte
	length      int
	multiplier  int
	lengthBytes int
	buf         []byte
}

// New creates a Decoder in the Initializing state.
func New(h Handler, opts ...Option) *Decoder {
	d := &Decoder{
		handler: h,
		state:   StateInitializing,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current decoder state.
func (d *Decoder) State() State {
	return d.state
}

// Open moves an initializing decoder to DecodingHeader.
// It has no effect in any other state.
func (d *Decoder) Open() {
	if d.state == StateInitializing {
		d.state = StateDecodingHeader
	}
}

// Close marks the stream as cleanly closed and reports EventConnectionClosed.
// It is a no-op once the decoder is in a terminal state.
func (d *Decoder) Close() {
	d.terminate(StateConnectionClosed, EventConnectionClosed, nil)
}

// Fail marks the stream as broken and reports EventConnectionError.
// It is a no-op once the decoder is in a terminal state.
func (d *Decoder) Fail(err error) {
	d.terminate(StateConnectionError, EventConnectionError, err)
}

// Decode consumes a chunk of bytes.
//
// Complete frames are passed to the handler as soon as their last byte
// arrives. If the chunk violates the framing rules the decoder reports
// EventProtocolError and returns the cause.
//
// Returns:
//   - error: the protocol error caused by this chunk, or ErrDecoderClosed if
//     the decoder was already in a terminal state
func (d *Decoder) Decode(chunk []byte) error {
	if d.state.Terminal() {
		return ErrDecoderClosed
	}
	if d.state == StateInitializing {
		return d.protocolError(ErrNotOpen)
	}

	for i := 0; i < len(chunk); {
		// The handler may close the decoder from HandleFrame.
		if d.state.Terminal() {
			return nil
		}

		switch d.state {
		case StateDecodingHeader:
			b := chunk[i]
			i++
			if t := b >> 4; t == 0 || t == 15 {
				return d.protocolError(fmt.Errorf("%w: %d", ErrInvalidPacketType, t))
			}
			d.header = b
			d.length = 0
			d.multiplier = 1
			d.lengthBytes = 0
			d.state = StateDecodingLength

		case StateDecodingLength:
			b := chunk[i]
			i++
			d.length += int(b&valueMask) * d.multiplier
			d.lengthBytes++
			if b&continuationBit != 0 {
				if d.lengthBytes == MaxLengthBytes {
					return d.protocolError(fmt.Errorf("%w: continuation past %d bytes", ErrMalformedLength, MaxLengthBytes))
				}
				d.multiplier *= lengthBase
				continue
			}
			if d.maxFrameSize > 0 && d.length > d.maxFrameSize {
				return d.protocolError(fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, d.length, d.maxFrameSize))
			}
			if d.length == 0 {
				d.emit(nil)
				continue
			}
			d.buf = make([]byte, 0, min(d.length, initialBufferCap))
			d.state = StateDecodingData

		case StateDecodingData:
			n := min(d.length-len(d.buf), len(chunk)-i)
			d.buf = append(d.buf, chunk[i:i+n]...)
			i += n
			if len(d.buf) == d.length {
				d.emit(d.buf)
			}
		}
	}

	return nil
}

// emit hands a finished frame to the handler and resets for the next header.
func (d *Decoder) emit(payload []byte) {
	frame := Frame{Header: d.header, Payload: payload}
	d.buf = nil
	d.state = StateDecodingHeader
	if d.handler != nil {
		d.handler.HandleFrame(frame)
	}
}

func (d *Decoder) protocolError(err error) error {
	d.terminate(StateProtocolError, EventProtocolError, err)
	return err
}

func (d *Decoder) terminate(state State, event Event, err error) {
	if d.state.Terminal() {
		return
	}
	d.state = state
	d.buf = nil
	if d.handler != nil {
		d.handler.HandleEvent(event, err)
	}
}
