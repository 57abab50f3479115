package manager

import "time"

// EventType identifies a manager event.
type EventType string

// Event types.
const (
	EventConnectionAttempt  EventType = "connection_attempt"
	EventConnectionSuccess  EventType = "connection_success"
	EventConnectionFailure  EventType = "connection_failure"
	EventConnectionLost     EventType = "connection_lost"
	EventDisconnect         EventType = "disconnect"
	EventReconnect          EventType = "reconnect"
	EventSubscribeSuccess   EventType = "subscribe_success"
	EventSubscribeFailure   EventType = "subscribe_failure"
	EventUnsubscribeSuccess EventType = "unsubscribe_success"
	EventUnsubscribeFailure EventType = "unsubscribe_failure"
	EventMessageSend        EventType = "message_send"
	EventMessageSendFailure EventType = "message_send_failure"
	EventMessageReceive     EventType = "message_receive"
	EventPublishAcked       EventType = "publish_acknowledged"
)

// Event describes one milestone in the life of a session.
type Event struct {
	Type EventType

	// Topic is set for subscription and message events.
	Topic string

	// QoS is set for subscription and message events.
	QoS byte

	// Size is the payload size in bytes for message events.
	Size int

	// Err is set for failure, lost and error-driven reconnect events.
	Err error

	At time.Time
}

// EventHandler receives manager events.
type EventHandler interface {
	HandleEvent(e Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(e Event)

// HandleEvent calls f(e).
func (f EventHandlerFunc) HandleEvent(e Event) {
	f(e)
}
