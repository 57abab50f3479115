package session

import (
	"bytes"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/courier-core/internal/decoder"
)

// MQTT 3.1.1 protocol identification sent in CONNECT.
const (
	protocolName    = "MQTT"
	protocolVersion = 4
	subackFailure   = 0x80
)

// encode serialises a control packet to its wire form.
func encode(cp packets.ControlPacket) ([]byte, error) {
	var buf bytes.Buffer
	if err := cp.Write(&buf); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cp.String(), err)
	}
	return buf.Bytes(), nil
}

// parseFrame turns a decoded frame into a typed control packet.
func parseFrame(f decoder.Frame) (packets.ControlPacket, error) {
	fh := packets.FixedHeader{
		MessageType:     f.Type(),
		Dup:             f.Header&0x08 > 0,
		Qos:             (f.Header >> 1) & 0x03,
		Retain:          f.Header&0x01 > 0,
		RemainingLength: len(f.Payload),
	}
	cp, err := packets.NewControlPacketWithHeader(fh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	// bytes.Buffer, unlike bytes.Reader, returns no error for an empty read,
	// which an empty PUBLISH payload needs.
	if err := cp.Unpack(bytes.NewBuffer(f.Payload)); err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %v", ErrProtocolViolation, packets.PacketNames[fh.MessageType], err)
	}
	return cp, nil
}

func (s *Session) connectPacket() *packets.ConnectPacket {
	cp := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	cp.ProtocolName = protocolName
	cp.ProtocolVersion = protocolVersion
	cp.CleanSession = s.cfg.CleanSession
	cp.Keepalive = uint16(s.cfg.KeepAlive.Seconds())
	cp.ClientIdentifier = s.cfg.ClientID

	if s.cfg.Username != "" {
		cp.UsernameFlag = true
		cp.Username = s.cfg.Username
	}
	if s.cfg.Password != "" {
		cp.PasswordFlag = true
		cp.Password = []byte(s.cfg.Password)
	}
	if w := s.cfg.Will; w != nil {
		cp.WillFlag = true
		cp.WillTopic = w.Topic
		cp.WillMessage = w.Payload
		cp.WillQos = w.QoS
		cp.WillRetain = w.Retained
	}
	return cp
}

func publishPacket(topic string, payload []byte, qos byte, retain, dup bool, id uint16) *packets.PublishPacket {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = topic
	p.Payload = payload
	p.Qos = qos
	p.Retain = retain
	p.Dup = dup
	if qos > 0 {
		p.MessageID = id
	}
	return p
}

func pubackPacket(id uint16) *packets.PubackPacket {
	p := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	p.MessageID = id
	return p
}

func pubrecPacket(id uint16) *packets.PubrecPacket {
	p := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
	p.MessageID = id
	return p
}

func pubrelPacket(id uint16) *packets.PubrelPacket {
	p := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
	p.MessageID = id
	return p
}

func pubcompPacket(id uint16) *packets.PubcompPacket {
	p := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
	p.MessageID = id
	return p
}

func subscribePacket(id uint16, subs []Subscription) *packets.SubscribePacket {
	p := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
	p.MessageID = id
	for _, sub := range subs {
		p.Topics = append(p.Topics, sub.Topic)
		p.Qoss = append(p.Qoss, sub.QoS)
	}
	return p
}

func unsubscribePacket(id uint16, topics []string) *packets.UnsubscribePacket {
	p := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
	p.MessageID = id
	p.Topics = topics
	return p
}
