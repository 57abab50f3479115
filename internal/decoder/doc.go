// Package decoder reassembles MQTT control packets from a raw byte stream.
//
// The decoder is a small state machine fed with byte chunks in arrival
// order. It knows only the fixed-header framing of MQTT:
//
//	byte 0:     packet type (high nibble) and flags (low nibble)
//	bytes 1..4: remaining length, base-128 varint, least significant group first
//	bytes n..:  variable header and payload ("remaining length" bytes)
//
// Interpreting the body of a frame is left to the session, which hands the
// frame to the packet codec.
//
// # States
//
//	Initializing → DecodingHeader → DecodingLength → DecodingData → DecodingHeader ...
//	                       any state → ConnectionClosed | ConnectionError | ProtocolError
//
// The three terminal states each correspond to exactly one Event, which is
// reported once to the Handler. After that the decoder refuses all input.
//
// # Thread Safety
//
// A Decoder is not safe for concurrent use. The session drives it from its
// single serial goroutine.
//
// # Usage
//
//	d := decoder.New(handler)
//	d.Open()
//	if err := d.Decode(chunk); err != nil {
//	    // decoder already reported a terminal event
//	}
package decoder
