package persistence

import (
	"context"
	"fmt"
	"time"
)

// Direction says which side originated a flow.
type Direction uint8

const (
	// Outgoing flows were published by this client.
	Outgoing Direction = iota
	// Incoming flows were published by the broker to this client.
	Incoming
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Command is the MQTT packet type a flow is waiting to complete.
type Command uint8

// Commands a flow can be parked on.
const (
	// CommandPublish: outgoing PUBLISH awaiting PUBACK or PUBREC.
	CommandPublish Command = 3
	// CommandPubrec: incoming QoS 2 PUBLISH answered with PUBREC, awaiting PUBREL.
	CommandPubrec Command = 5
	// CommandPubrel: outgoing PUBREL awaiting PUBCOMP.
	CommandPubrel Command = 6
)

// String returns the packet name.
func (c Command) String() string {
	switch c {
	case CommandPublish:
		return "PUBLISH"
	case CommandPubrec:
		return "PUBREC"
	case CommandPubrel:
		return "PUBREL"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// Flow is one in-flight message.
type Flow struct {
	ClientID   string
	MessageID  uint16
	Direction  Direction
	Command    Command
	Topic      string
	Payload    []byte
	QoS        byte
	Retained   bool

	// RetryCount counts transmissions of the flow's current packet. A
	// replayed PUBLISH with a non-zero count carries the DUP flag.
	RetryCount int
	CreatedAt  time.Time

	// Seq orders flows by insertion. Assigned by Record and kept by Update.
	Seq int64
}

func (f Flow) validate() error {
	switch {
	case f.ClientID == "":
		return fmt.Errorf("%w: empty client id", ErrInvalidFlow)
	case f.MessageID == 0:
		return fmt.Errorf("%w: message id 0", ErrInvalidFlow)
	case f.Topic == "":
		return fmt.Errorf("%w: empty topic", ErrInvalidFlow)
	}
	return nil
}

// Limits caps what a single client may keep in flight.
// Zero values mean unlimited.
type Limits struct {
	// MaxMessages is the maximum number of flows per client.
	MaxMessages int `yaml:"max_messages" toml:"max_messages"`

	// MaxSize is the maximum total payload bytes per client.
	MaxSize int64 `yaml:"max_size" toml:"max_size"`
}

func (l Limits) check(count int, size int64, f Flow) error {
	if l.MaxMessages > 0 && count+1 > l.MaxMessages {
		return fmt.Errorf("%w: %d flows for %s", ErrStoreFull, count, f.ClientID)
	}
	if l.MaxSize > 0 && size+int64(len(f.Payload)) > l.MaxSize {
		return fmt.Errorf("%w: %d payload bytes for %s", ErrStoreFull, size, f.ClientID)
	}
	return nil
}

// Store keeps flows until they are acknowledged.
type Store interface {
	// Record adds a new flow. It fails with ErrFlowExists if a flow with the
	// same client, direction and message id is stored.
	Record(ctx context.Context, f Flow) error

	// Update replaces the mutable fields of an existing flow.
	Update(ctx context.Context, f Flow) error

	// Get returns one flow.
	Get(ctx context.Context, clientID string, dir Direction, id uint16) (Flow, error)

	// Ack removes a flow whose handshake has completed.
	Ack(ctx context.Context, clientID string, dir Direction, id uint16) error

	// Pending returns the flows for a client in insertion order.
	Pending(ctx context.Context, clientID string, dir Direction) ([]Flow, error)

	// Purge removes every flow belonging to a client.
	Purge(ctx context.Context, clientID string) error

	// DeleteAll removes every flow for every client.
	DeleteAll(ctx context.Context) error

	// Persistent reports whether flows survive a process restart.
	Persistent() bool
}
