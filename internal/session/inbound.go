package session

import (
	"errors"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/courier-core/internal/decoder"
	"github.com/nerrad567/courier-core/internal/persistence"
)

// handleFrame dispatches one inbound packet. It runs on the loop goroutine.
func (s *Session) handleFrame(l *link, f decoder.Frame) {
	if l != s.link || l.detached.Load() {
		return
	}
	s.lastInbound = s.sched.Now()
	cp, err := parseFrame(f)
	if err != nil {
		s.connectionLost(l, err)
		return
	}

	if s.current() == StateConnecting {
		ack, ok := cp.(*packets.ConnackPacket)
		if !ok {
			s.connectionLost(l, fmt.Errorf("%w: %s before CONNACK", ErrProtocolViolation, packets.PacketNames[f.Type()]))
			return
		}
		s.handleConnack(l, ack)
		return
	}

	switch p := cp.(type) {
	case *packets.PublishPacket:
		s.handlePublish(l, p)
	case *packets.PubackPacket:
		s.completeOutgoing(p.MessageID)
	case *packets.PubrecPacket:
		s.handlePubrec(l, p.MessageID)
	case *packets.PubrelPacket:
		s.handlePubrel(l, p.MessageID)
	case *packets.PubcompPacket:
		s.completeOutgoing(p.MessageID)
	case *packets.SubackPacket:
		if tok, ok := s.subTokens[p.MessageID]; ok {
			delete(s.subTokens, p.MessageID)
			tok.granted = p.ReturnCodes
			tok.complete(nil)
		}
	case *packets.UnsubackPacket:
		if tok, ok := s.unsubTokens[p.MessageID]; ok {
			delete(s.unsubTokens, p.MessageID)
			tok.complete(nil)
		}
	case *packets.PingrespPacket:
		s.pingPending = false
	default:
		s.connectionLost(l, fmt.Errorf("%w: unexpected %s", ErrProtocolViolation, packets.PacketNames[f.Type()]))
	}
}

func (s *Session) handleConnack(l *link, ack *packets.ConnackPacket) {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	if ack.ReturnCode != packets.Accepted {
		reason, ok := packets.ConnackReturnCodes[ack.ReturnCode]
		if !ok {
			reason = fmt.Sprintf("return code %d", ack.ReturnCode)
		}
		s.connectionLost(l, fmt.Errorf("%w: %s", ErrConnectionRefused, reason))
		return
	}

	s.reconnect.Reset()
	s.startKeepAlive(l)
	s.startIdleCheck(l)
	s.setState(StateConnected, nil)
	s.log.Info("connected", "client_id", s.cfg.ClientID, "session_present", ack.SessionPresent)
	s.replay(l)
}

// replay resends every stored outgoing flow in insertion order.
func (s *Session) replay(l *link) {
	flows, err := s.store.Pending(s.ctx, s.cfg.ClientID, persistence.Outgoing)
	if err != nil {
		s.log.Error("loading flows for replay failed", "error", err)
		return
	}

	for _, f := range flows {
		if l != s.link {
			return
		}
		s.outFlows[f.MessageID] = f.Topic

		var cp packets.ControlPacket
		switch f.Command {
		case persistence.CommandPublish:
			cp = publishPacket(f.Topic, f.Payload, f.QoS, f.Retained, f.RetryCount > 0, f.MessageID)
		case persistence.CommandPubrel:
			cp = pubrelPacket(f.MessageID)
		default:
			continue
		}
		f.RetryCount++
		if err := s.store.Update(s.ctx, f); err != nil {
			s.log.Warn("updating flow retry count failed", "message_id", f.MessageID, "error", err)
		}
		if !s.send(l, cp) {
			return
		}
	}
	if len(flows) > 0 {
		s.log.Info("replayed flows", "client_id", s.cfg.ClientID, "count", len(flows))
	}
}

func (s *Session) handlePublish(l *link, p *packets.PublishPacket) {
	msg := Message{
		Topic:     p.TopicName,
		Payload:   p.Payload,
		QoS:       p.Qos,
		Retained:  p.Retain,
		Duplicate: p.Dup,
		MessageID: p.MessageID,
	}

	switch p.Qos {
	case 0:
		s.deliver(msg)
	case 1:
		s.deliver(msg)
		s.send(l, pubackPacket(p.MessageID))
	case 2:
		err := s.store.Record(s.ctx, persistence.Flow{
			ClientID:  s.cfg.ClientID,
			MessageID: p.MessageID,
			Direction: persistence.Incoming,
			Command:   persistence.CommandPubrec,
			Topic:     p.TopicName,
			Payload:   p.Payload,
			QoS:       2,
			Retained:  p.Retain,
		})
		switch {
		case err == nil:
		case errors.Is(err, persistence.ErrFlowExists):
			// Redelivery of a message we already hold; only the PUBREC was lost.
		default:
			s.log.Error("recording incoming flow failed", "message_id", p.MessageID, "error", err)
			return
		}
		s.send(l, pubrecPacket(p.MessageID))
	default:
		s.connectionLost(l, fmt.Errorf("%w: publish qos %d", ErrProtocolViolation, p.Qos))
	}
}

// handlePubrel releases a held QoS 2 message to the application.
func (s *Session) handlePubrel(l *link, id uint16) {
	f, err := s.store.Get(s.ctx, s.cfg.ClientID, persistence.Incoming, id)
	switch {
	case err == nil:
		s.deliver(Message{
			Topic:     f.Topic,
			Payload:   f.Payload,
			QoS:       f.QoS,
			Retained:  f.Retained,
			MessageID: id,
		})
		if err := s.store.Ack(s.ctx, s.cfg.ClientID, persistence.Incoming, id); err != nil {
			s.log.Warn("acknowledging incoming flow failed", "message_id", id, "error", err)
		}
	case errors.Is(err, persistence.ErrFlowNotFound):
		// Already delivered; the broker missed our PUBCOMP.
	default:
		s.log.Error("loading incoming flow failed", "message_id", id, "error", err)
		return
	}
	s.send(l, pubcompPacket(id))
}

func (s *Session) handlePubrec(l *link, id uint16) {
	f, err := s.store.Get(s.ctx, s.cfg.ClientID, persistence.Outgoing, id)
	if err != nil {
		if !errors.Is(err, persistence.ErrFlowNotFound) {
			s.log.Error("loading outgoing flow failed", "message_id", id, "error", err)
			return
		}
		s.log.Debug("PUBREC for unknown flow", "message_id", id)
	} else if f.Command == persistence.CommandPublish {
		f.Command = persistence.CommandPubrel
		f.RetryCount = 1
		if err := s.store.Update(s.ctx, f); err != nil {
			s.log.Error("updating outgoing flow failed", "message_id", id, "error", err)
			return
		}
	}
	s.send(l, pubrelPacket(id))
}

// completeOutgoing finishes an outgoing flow on PUBACK or PUBCOMP.
func (s *Session) completeOutgoing(id uint16) {
	err := s.store.Ack(s.ctx, s.cfg.ClientID, persistence.Outgoing, id)
	if err != nil && !errors.Is(err, persistence.ErrFlowNotFound) {
		s.log.Error("acknowledging outgoing flow failed", "message_id", id, "error", err)
	}

	topic, known := s.outFlows[id]
	delete(s.outFlows, id)
	if tok, ok := s.pubTokens[id]; ok {
		delete(s.pubTokens, id)
		tok.complete(nil)
	}
	if known {
		s.emit(func(h Handler) { h.PublishAcknowledged(id, topic) })
	}
}

func (s *Session) deliver(msg Message) {
	s.emit(func(h Handler) { h.MessageReceived(msg) })
}
