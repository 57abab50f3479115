package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrClosed is returned by Send after the transport reached a terminal state.
	ErrClosed = errors.New("transport: closed")

	// ErrNotOpen is returned by Send before the connection is established.
	ErrNotOpen = errors.New("transport: not open")

	// ErrAlreadyOpened is returned when Open is called twice on one transport.
	ErrAlreadyOpened = errors.New("transport: already opened")

	// ErrSendQueueFull is returned when the outbound queue cannot take more data.
	ErrSendQueueFull = errors.New("transport: send queue full")

	// ErrUnsupportedScheme is returned for broker URLs with an unknown scheme.
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

	// ErrInvalidURL is returned when the broker URL cannot be parsed.
	ErrInvalidURL = errors.New("transport: invalid broker url")

	// ErrCertificateInvalid is reported when the server chain fails validation.
	ErrCertificateInvalid = errors.New("transport: server certificate invalid")

	// ErrPinMismatch is reported when no server certificate matches a pin.
	ErrPinMismatch = errors.New("transport: server certificate does not match pin")

	// ErrNoPinnedCertificates is returned when pinning is enabled without pins.
	ErrNoPinnedCertificates = errors.New("transport: pinning enabled without pinned certificates")
)
