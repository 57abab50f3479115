package mqtt

import (
	"encoding/json"
	"fmt"
)

// PublishJSON encodes v as JSON and publishes it.
//
// Example:
//
//	err := client.PublishJSON("sensors/kitchen/temp", Reading{C: 21.5}, 1, false)
func (c *Client) PublishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrPublishFailed, ErrInvalidPayload, err)
	}
	return c.Publish(topic, payload, qos, retained)
}

// SubscribeText registers a handler that receives payloads as strings.
func (c *Client) SubscribeText(filter string, qos byte, handler func(topic, text string) error) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(filter, qos, func(topic string, payload []byte) error {
		return handler(topic, string(payload))
	})
}

// SubscribeJSON registers a handler that receives payloads decoded into a
// T. A payload that does not decode is logged with ErrInvalidPayload and
// the handler is not called.
//
// Example:
//
//	err := mqtt.SubscribeJSON(client, "sensors/+/temp", 1,
//	    func(topic string, r Reading) error {
//	        log.Printf("%s: %.1f", topic, r.C)
//	        return nil
//	    })
func SubscribeJSON[T any](c *Client, filter string, qos byte, handler func(topic string, v T) error) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(filter, qos, func(topic string, payload []byte) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return handler(topic, v)
	})
}
