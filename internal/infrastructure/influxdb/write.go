package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/courier-core/internal/manager"
)

// Measurement names.
const (
	measurementEvents   = "courier_events"
	measurementMessages = "courier_messages"
)

// HandleEvent records a manager event. Message events go to the
// courier_messages measurement with their payload size, everything else to
// courier_events.
func (c *Client) HandleEvent(e manager.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(eventPoint(c.clientID, e))
}

// eventPoint converts an event into a line protocol point.
func eventPoint(clientID string, e manager.Event) *write.Point {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{
		"client_id": clientID,
		"type":      string(e.Type),
	}
	fields := map[string]interface{}{
		"count": 1,
	}

	measurement := measurementEvents
	switch e.Type {
	case manager.EventMessageSend, manager.EventMessageSendFailure,
		manager.EventMessageReceive, manager.EventPublishAcked:
		measurement = measurementMessages
		fields["size"] = e.Size
		fields["qos"] = int(e.QoS)
	case manager.EventSubscribeSuccess, manager.EventSubscribeFailure,
		manager.EventUnsubscribeSuccess, manager.EventUnsubscribeFailure:
		fields["qos"] = int(e.QoS)
	}

	// Topics are unbounded; keep them out of the tag set.
	if e.Topic != "" {
		fields["topic"] = e.Topic
	}
	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}

	return write.NewPoint(measurement, tags, fields, at)
}

// WritePoint writes a custom point stamped with the current time.
//
// Example:
//
//	client.WritePoint("courier_store",
//	    map[string]string{"backend": "sqlite"},
//	    map[string]interface{}{"flows": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	if tags == nil {
		tags = map[string]string{}
	}
	if _, ok := tags["client_id"]; !ok {
		tags["client_id"] = c.clientID
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
