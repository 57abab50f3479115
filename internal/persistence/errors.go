package persistence

import "errors"

// Domain errors for the persistence package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrFlowNotFound is returned when a flow does not exist.
	ErrFlowNotFound = errors.New("persistence: flow not found")

	// ErrFlowExists is returned by Record for a flow that is already stored.
	ErrFlowExists = errors.New("persistence: flow already exists")

	// ErrStoreFull is returned by Record when a configured limit would be exceeded.
	ErrStoreFull = errors.New("persistence: store full")

	// ErrInvalidFlow is returned for flows missing a client id, message id or topic.
	ErrInvalidFlow = errors.New("persistence: invalid flow")

	// ErrInvalidMessage is returned by IncomingStore.Save for messages
	// missing an id, client id or topic.
	ErrInvalidMessage = errors.New("persistence: invalid incoming message")
)
