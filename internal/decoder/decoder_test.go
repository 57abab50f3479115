package decoder

import (
	"bytes"
	"errors"
	"testing"
)

// recorder collects everything a Decoder reports.
type recorder struct {
	frames []Frame
	events []Event
	errs   []error
}

func (r *recorder) HandleFrame(f Frame) {
	r.frames = append(r.frames, f)
}

func (r *recorder) HandleEvent(e Event, err error) {
	r.events = append(r.events, e)
	r.errs = append(r.errs, err)
}

func openDecoder(t *testing.T, opts ...Option) (*Decoder, *recorder) {
	t.Helper()
	rec := &recorder{}
	d := New(rec, opts...)
	d.Open()
	return d, rec
}

// ============================================================================
// Framing
// ============================================================================

func TestDecodeFrames(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []Frame
	}{
		{
			name:  "pingresp has zero length",
			input: []byte{0xD0, 0x00},
			want:  []Frame{{Header: 0xD0}},
		},
		{
			name:  "connack",
			input: []byte{0x20, 0x02, 0x00, 0x00},
			want:  []Frame{{Header: 0x20, Payload: []byte{0x00, 0x00}}},
		},
		{
			name:  "puback followed by pingresp",
			input: []byte{0x40, 0x02, 0x00, 0x07, 0xD0, 0x00},
			want: []Frame{
				{Header: 0x40, Payload: []byte{0x00, 0x07}},
				{Header: 0xD0},
			},
		},
		{
			name: "qos1 publish with flags",
			// topic "a/b", id 1, payload "hi"
			input: []byte{0x32, 0x09, 0x00, 0x03, 'a', '/', 'b', 0x00, 0x01, 'h', 'i'},
			want: []Frame{
				{Header: 0x32, Payload: []byte{0x00, 0x03, 'a', '/', 'b', 0x00, 0x01, 'h', 'i'}},
			},
		},
		{
			name:  "no bytes",
			input: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := openDecoder(t)
			if err := d.Decode(tt.input); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			assertFrames(t, rec.frames, tt.want)
			if d.State() != StateDecodingHeader {
				t.Errorf("State() = %v, want %v", d.State(), StateDecodingHeader)
			}
			if len(rec.events) != 0 {
				t.Errorf("unexpected events %v", rec.events)
			}
		})
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	d, rec := openDecoder(t)
	input := []byte{0x30, 0x05, 0x00, 0x01, 'x', 'y', 'z'}

	wantStates := []State{
		StateDecodingLength,
		StateDecodingData,
		StateDecodingData,
		StateDecodingData,
		StateDecodingData,
		StateDecodingData,
		StateDecodingHeader,
	}

	for i, b := range input {
		if err := d.Decode([]byte{b}); err != nil {
			t.Fatalf("Decode(byte %d) error = %v", i, err)
		}
		if d.State() != wantStates[i] {
			t.Errorf("after byte %d State() = %v, want %v", i, d.State(), wantStates[i])
		}
		if i < len(input)-1 && len(rec.frames) != 0 {
			t.Fatalf("frame emitted early after byte %d", i)
		}
	}

	assertFrames(t, rec.frames, []Frame{{Header: 0x30, Payload: []byte{0x00, 0x01, 'x', 'y', 'z'}}})
}

func TestDecodeMultiByteLength(t *testing.T) {
	d, rec := openDecoder(t)

	body := bytes.Repeat([]byte{0xAB}, 321)
	length, err := EncodeLength(len(body))
	if err != nil {
		t.Fatalf("EncodeLength() error = %v", err)
	}
	if len(length) != 2 {
		t.Fatalf("len(EncodeLength(321)) = %d, want 2", len(length))
	}

	stream := append([]byte{0x30}, length...)
	stream = append(stream, body...)

	if err := d.Decode(stream); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	assertFrames(t, rec.frames, []Frame{{Header: 0x30, Payload: body}})
}

func TestFrameTypeAndFlags(t *testing.T) {
	f := Frame{Header: 0x3B}
	if f.Type() != 3 {
		t.Errorf("Type() = %d, want 3", f.Type())
	}
	if f.Flags() != 0x0B {
		t.Errorf("Flags() = %#x, want 0x0b", f.Flags())
	}
}

// ============================================================================
// Protocol errors
// ============================================================================

func TestDecodeProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		input   []byte
		wantErr error
		frames  int
	}{
		{
			name:    "reserved type 0",
			input:   []byte{0x00, 0x00},
			wantErr: ErrInvalidPacketType,
		},
		{
			name:    "reserved type 15",
			input:   []byte{0xF0, 0x00},
			wantErr: ErrInvalidPacketType,
		},
		{
			name:    "fifth length byte",
			input:   []byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01},
			wantErr: ErrMalformedLength,
		},
		{
			name:    "frame over max size",
			opts:    []Option{WithMaxFrameSize(4)},
			input:   []byte{0x30, 0x05, 0, 0, 0, 0, 0},
			wantErr: ErrFrameTooLarge,
		},
		{
			name:    "bad header after good frame",
			input:   []byte{0xD0, 0x00, 0xF0},
			wantErr: ErrInvalidPacketType,
			frames:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := openDecoder(t, tt.opts...)

			err := d.Decode(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if d.State() != StateProtocolError {
				t.Errorf("State() = %v, want %v", d.State(), StateProtocolError)
			}
			if len(rec.frames) != tt.frames {
				t.Errorf("got %d frames, want %d", len(rec.frames), tt.frames)
			}
			if len(rec.events) != 1 || rec.events[0] != EventProtocolError {
				t.Errorf("events = %v, want [protocol_error]", rec.events)
			}
			if !errors.Is(rec.errs[0], tt.wantErr) {
				t.Errorf("event error = %v, want %v", rec.errs[0], tt.wantErr)
			}
		})
	}
}

func TestDecodeBeforeOpen(t *testing.T) {
	rec := &recorder{}
	d := New(rec)

	err := d.Decode([]byte{0xD0, 0x00})
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Decode() error = %v, want %v", err, ErrNotOpen)
	}
	if d.State() != StateProtocolError {
		t.Errorf("State() = %v, want %v", d.State(), StateProtocolError)
	}
	if len(rec.frames) != 0 {
		t.Errorf("frames emitted before open: %d", len(rec.frames))
	}
}

// ============================================================================
// Terminal states
// ============================================================================

func TestTerminalEventsReportedOnce(t *testing.T) {
	tests := []struct {
		name      string
		terminate func(d *Decoder)
		wantState State
		wantEvent Event
	}{
		{
			name:      "close",
			terminate: func(d *Decoder) { d.Close() },
			wantState: StateConnectionClosed,
			wantEvent: EventConnectionClosed,
		},
		{
			name:      "fail",
			terminate: func(d *Decoder) { d.Fail(errors.New("reset by peer")) },
			wantState: StateConnectionError,
			wantEvent: EventConnectionError,
		},
		{
			name:      "protocol error",
			terminate: func(d *Decoder) { _ = d.Decode([]byte{0x00}) },
			wantState: StateProtocolError,
			wantEvent: EventProtocolError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, rec := openDecoder(t)

			tt.terminate(d)
			d.Close()
			d.Fail(errors.New("late"))

			if d.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", d.State(), tt.wantState)
			}
			if len(rec.events) != 1 || rec.events[0] != tt.wantEvent {
				t.Errorf("events = %v, want [%v]", rec.events, tt.wantEvent)
			}

			if err := d.Decode([]byte{0xD0, 0x00}); !errors.Is(err, ErrDecoderClosed) {
				t.Errorf("Decode() after terminal error = %v, want %v", err, ErrDecoderClosed)
			}
			if len(rec.frames) != 0 {
				t.Errorf("frames emitted after terminal state: %d", len(rec.frames))
			}
		})
	}
}

func TestPartialFrameDiscardedOnClose(t *testing.T) {
	d, rec := openDecoder(t)

	if err := d.Decode([]byte{0x30, 0x04, 0x00}); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	d.Close()

	if len(rec.frames) != 0 {
		t.Errorf("partial frame emitted: %v", rec.frames)
	}
	if rec.errs[0] != nil {
		t.Errorf("clean close error = %v, want nil", rec.errs[0])
	}
}

// closingHandler closes the decoder from inside HandleFrame.
type closingHandler struct {
	d      *Decoder
	frames int
}

func (h *closingHandler) HandleFrame(Frame) {
	h.frames++
	h.d.Close()
}

func (h *closingHandler) HandleEvent(Event, error) {}

func TestHandlerClosesDuringDecode(t *testing.T) {
	h := &closingHandler{}
	d := New(h)
	h.d = d
	d.Open()

	err := d.Decode([]byte{0xD0, 0x00, 0xD0, 0x00})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if h.frames != 1 {
		t.Errorf("frames = %d, want 1", h.frames)
	}
	if d.State() != StateConnectionClosed {
		t.Errorf("State() = %v, want %v", d.State(), StateConnectionClosed)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	d, _ := openDecoder(t)
	_ = d.Decode([]byte{0x30})
	d.Open()
	if d.State() != StateDecodingLength {
		t.Errorf("Open() moved state to %v", d.State())
	}
}

// ============================================================================
// Remaining length
// ============================================================================

func TestEncodeLength(t *testing.T) {
	tests := []struct {
		n       int
		want    []byte
		wantErr bool
	}{
		{n: 0, want: []byte{0x00}},
		{n: 127, want: []byte{0x7F}},
		{n: 128, want: []byte{0x80, 0x01}},
		{n: 16_383, want: []byte{0xFF, 0x7F}},
		{n: 16_384, want: []byte{0x80, 0x80, 0x01}},
		{n: 2_097_151, want: []byte{0xFF, 0xFF, 0x7F}},
		{n: 2_097_152, want: []byte{0x80, 0x80, 0x80, 0x01}},
		{n: MaxLength, want: []byte{0xFF, 0xFF, 0xFF, 0x7F}},
		{n: MaxLength + 1, wantErr: true},
		{n: -1, wantErr: true},
	}

	for _, tt := range tests {
		got, err := EncodeLength(tt.n)
		if tt.wantErr {
			if !errors.Is(err, ErrLengthOutOfRange) {
				t.Errorf("EncodeLength(%d) error = %v, want %v", tt.n, err, ErrLengthOutOfRange)
			}
			continue
		}
		if err != nil {
			t.Errorf("EncodeLength(%d) error = %v", tt.n, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeLength(%d) = %x, want %x", tt.n, got, tt.want)
		}
	}
}

func TestDecodeLength(t *testing.T) {
	tests := []struct {
		name         string
		in           []byte
		wantValue    int
		wantConsumed int
		wantErr      bool
	}{
		{name: "single byte", in: []byte{0x05, 0xFF}, wantValue: 5, wantConsumed: 1},
		{name: "two bytes", in: []byte{0xC1, 0x02}, wantValue: 321, wantConsumed: 2},
		{name: "maximum", in: []byte{0xFF, 0xFF, 0xFF, 0x7F}, wantValue: MaxLength, wantConsumed: 4},
		{name: "truncated", in: []byte{0x80}, wantErr: true},
		{name: "empty", in: nil, wantErr: true},
		{name: "five bytes", in: []byte{0x80, 0x80, 0x80, 0x80, 0x01}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, n, err := DecodeLength(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedLength) {
					t.Fatalf("DecodeLength() error = %v, want %v", err, ErrMalformedLength)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeLength() error = %v", err)
			}
			if v != tt.wantValue || n != tt.wantConsumed {
				t.Errorf("DecodeLength() = (%d, %d), want (%d, %d)", v, n, tt.wantValue, tt.wantConsumed)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if got := StateDecodingData.String(); got != "decoding_data" {
		t.Errorf("String() = %q", got)
	}
	if got := EventConnectionError.String(); got != "connection_error" {
		t.Errorf("String() = %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("String() = %q", got)
	}
}

func assertFrames(t *testing.T, got, want []Frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Header != want[i].Header {
			t.Errorf("frame %d header = %#x, want %#x", i, got[i].Header, want[i].Header)
		}
		if !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Errorf("frame %d payload = %x, want %x", i, got[i].Payload, want[i].Payload)
		}
	}
}
