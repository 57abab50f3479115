package mqtt

import (
	"context"
	"fmt"

	"github.com/nerrad567/courier-core/internal/session"
)

// Subscribe registers a handler for messages matching the topic filter.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "sensors/+/temp" matches any room
//   - # (multi-level): "sensors/#" matches everything below sensors
//
// The filter is stored and sent to the broker immediately when connected,
// and re-sent after every reconnect. Subscribing while offline is allowed.
// A broker rejection (SUBACK 0x80) is logged; the handler stays registered
// so a later reconnect can succeed. Messages held for matching topics
// are handed to the handler, oldest first, before Subscribe returns.
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	err := client.Subscribe("sensors/+/temp", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	previous, existed := c.subscriptions[topic]
	c.subscriptions[topic] = subscription{
		filter:  topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := c.mgr.Subscribe(ctx, session.Subscription{Topic: topic, QoS: qos}); err != nil {
		c.subMu.Lock()
		if existed {
			c.subscriptions[topic] = previous
		} else {
			delete(c.subscriptions, topic)
		}
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.deliverHeld(topic, handler)
	return nil
}

// Unsubscribe removes a subscription and stops dispatching messages for it.
//
// The UNSUBSCRIBE is sent now if connected, otherwise after the next
// connect. Messages already in flight may still reach the default handler.
//
// Parameters:
//   - topic: The exact filter that was subscribed to
func (c *Client) Unsubscribe(topic string) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := c.mgr.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SetDefaultHandler sets the handler for messages that match no registered
// filter, such as deliveries for filters restored from a persistent store.
func (c *Client) SetDefaultHandler(handler MessageHandler) {
	c.subMu.Lock()
	c.defaultHandler = handler
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of registered handlers.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a handler is registered for the exact filter.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
