package mqtt

import (
	"context"

	"github.com/google/uuid"

	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/session"
)

// hold stores a QoS 1 or 2 message that no handler took. It reports
// whether the message was stored. Callers hold heldMu.
func (c *Client) hold(msg session.Message) bool {
	if c.held == nil || msg.QoS == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	err := c.held.Save(ctx, persistence.IncomingMessage{
		ID:         uuid.NewString(),
		ClientID:   c.clientID,
		Topic:      msg.Topic,
		Payload:    msg.Payload,
		QoS:        msg.QoS,
		Retained:   msg.Retained,
		ReceivedAt: c.sched.Now(),
	})
	if err != nil {
		c.getLogger().Warn("holding MQTT message failed", "topic", msg.Topic, "error", err)
		return false
	}
	c.getLogger().Debug("MQTT message held until a handler subscribes", "topic", msg.Topic)
	return true
}

// deliverHeld hands the held messages matching filter to handler, oldest
// first, and deletes them. It runs on the caller's goroutine, so these
// deliveries may interleave with live ones.
func (c *Client) deliverHeld(filter string, handler MessageHandler) {
	if c.held == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	c.heldMu.Lock()
	stored, err := c.held.Messages(ctx, c.clientID)
	if err != nil {
		c.heldMu.Unlock()
		c.getLogger().Warn("reading held MQTT messages failed", "filter", filter, "error", err)
		return
	}
	var (
		due []persistence.IncomingMessage
		ids []string
	)
	for _, m := range stored {
		if TopicMatch(filter, m.Topic) {
			due = append(due, m)
			ids = append(ids, m.ID)
		}
	}
	if len(ids) > 0 {
		if err := c.held.Delete(ctx, c.clientID, ids...); err != nil {
			c.getLogger().Warn("deleting held MQTT messages failed", "filter", filter, "error", err)
		}
	}
	c.heldMu.Unlock()

	if len(due) > 0 {
		c.getLogger().Debug("delivering held MQTT messages", "filter", filter, "count", len(due))
	}
	for _, m := range due {
		c.invoke(handler, session.Message{
			Topic:    m.Topic,
			Payload:  m.Payload,
			QoS:      m.QoS,
			Retained: m.Retained,
		})
	}
}

// purgeExpired drops held messages older than the configured TTL.
func (c *Client) purgeExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	n, err := c.held.DeleteOlderThan(ctx, c.sched.Now().Add(-c.heldTTL))
	if err != nil {
		c.getLogger().Warn("purging held MQTT messages failed", "error", err)
		return
	}
	if n > 0 {
		c.getLogger().Info("expired held MQTT messages dropped", "count", n)
	}
}
