package manager

import "errors"

// Domain errors for the manager package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotStarted is returned by operations that need a running session.
	ErrNotStarted = errors.New("manager: not started")

	// ErrAlreadyStarted is returned by Start while the manager is running.
	ErrAlreadyStarted = errors.New("manager: already started")

	// ErrInvalidTransition is logged when a state change is not allowed.
	ErrInvalidTransition = errors.New("manager: invalid state transition")

	// ErrSubscriptionRejected is reported when the broker answers a
	// SUBSCRIBE filter with the failure return code.
	ErrSubscriptionRejected = errors.New("manager: subscription rejected by broker")
)
