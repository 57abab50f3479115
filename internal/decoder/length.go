package decoder

import "fmt"

// Remaining length constraints from the MQTT 3.1.1 fixed header.
const (
	// MaxLengthBytes is the maximum number of bytes in a remaining length field.
	MaxLengthBytes = 4

	// MaxLength is the largest remaining length that fits in four varint bytes.
	MaxLength = 268_435_455

	continuationBit = 0x80
	valueMask       = 0x7F
	lengthBase      = 128
)

// EncodeLength encodes n as an MQTT remaining length.
//
// Returns:
//   - []byte: 1 to 4 bytes, least significant group first
//   - error: ErrLengthOutOfRange if n is negative or larger than MaxLength
func EncodeLength(n int) ([]byte, error) {
	if n < 0 || n > MaxLength {
		return nil, fmt.Errorf("%w: %d", ErrLengthOutOfRange, n)
	}

	out := make([]byte, 0, MaxLengthBytes)
	for {
		digit := byte(n % lengthBase)
		n /= lengthBase
		if n > 0 {
			digit |= continuationBit
		}
		out = append(out, digit)
		if n == 0 {
			return out, nil
		}
	}
}

// DecodeLength decodes an MQTT remaining length from the start of b.
//
// Returns:
//   - value: the decoded length
//   - consumed: number of bytes read from b
//   - error: ErrMalformedLength if a fourth byte still carries the
//     continuation bit, or if b ends before the field is complete
func DecodeLength(b []byte) (value, consumed int, err error) {
	multiplier := 1
	for i := 0; i < MaxLengthBytes; i++ {
		if i >= len(b) {
			return 0, i, fmt.Errorf("%w: truncated after %d bytes", ErrMalformedLength, i)
		}
		value += int(b[i]&valueMask) * multiplier
		if b[i]&continuationBit == 0 {
			return value, i + 1, nil
		}
		multiplier *= lengthBase
	}
	return 0, MaxLengthBytes, fmt.Errorf("%w: continuation past %d bytes", ErrMalformedLength, MaxLengthBytes)
}
