package reconnect

import "errors"

// Domain errors for the reconnect package.
var (
	// ErrInvalidPolicy is returned by Policy.Validate.
	ErrInvalidPolicy = errors.New("reconnect: invalid policy")
)
