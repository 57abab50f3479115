package mqtt

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/courier-core/internal/transport"
)

const waitTimeout = 2 * time.Second

// testBroker is an in-process broker that acknowledges everything the
// client sends and records it for inspection.
type testBroker struct {
	connackCode atomic.Uint32

	mu   sync.Mutex
	conn *testConn

	received chan packets.ControlPacket
}

func newTestBroker() *testBroker {
	return &testBroker{received: make(chan packets.ControlPacket, 256)}
}

func (b *testBroker) newTransport() (transport.Transport, error) {
	return &testConn{
		b:      b,
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}, nil
}

// current returns the most recently opened connection.
func (b *testBroker) current() *testConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

// expectPublish waits for a PUBLISH to topic, skipping other packets.
func (b *testBroker) expectPublish(t *testing.T, topic string) *packets.PublishPacket {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case cp := <-b.received:
			if p, ok := cp.(*packets.PublishPacket); ok && p.TopicName == topic {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for PUBLISH to %s", topic)
			return nil
		}
	}
}

// expect waits for a packet of the given Go type, skipping others.
func expect[P packets.ControlPacket](t *testing.T, b *testBroker) P {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case cp := <-b.received:
			if p, ok := cp.(P); ok {
				return p
			}
		case <-deadline:
			var zero P
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

type testConn struct {
	b         *testBroker
	h         transport.Handler
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *testConn) Open(_ context.Context, h transport.Handler) error {
	c.h = h
	c.b.mu.Lock()
	c.b.conn = c
	c.b.mu.Unlock()
	go c.run()
	return nil
}

func (c *testConn) Send(b []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	select {
	case c.in <- append([]byte(nil), b...):
		return nil
	default:
		return transport.ErrSendQueueFull
	}
}

func (c *testConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *testConn) drop() {
	c.h.HandleError(errors.New("broker dropped connection"))
}

// deliver sends an application message to the client.
func (c *testConn) deliver(topic string, payload []byte, qos byte, id uint16) {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = topic
	p.Payload = payload
	p.Qos = qos
	p.MessageID = id
	c.inject(p)
}

func (c *testConn) inject(cp packets.ControlPacket) {
	var buf bytes.Buffer
	if err := cp.Write(&buf); err != nil {
		panic(err)
	}
	c.h.HandleData(buf.Bytes())
}

func (c *testConn) run() {
	c.h.HandleOpen()
	for {
		select {
		case raw := <-c.in:
			c.handle(raw)
		case <-c.closed:
			for {
				select {
				case raw := <-c.in:
					if cp, err := packets.ReadPacket(bytes.NewReader(raw)); err == nil {
						c.b.received <- cp
					}
				default:
					return
				}
			}
		}
	}
}

func (c *testConn) handle(raw []byte) {
	cp, err := packets.ReadPacket(bytes.NewReader(raw))
	if err != nil {
		c.h.HandleError(err)
		return
	}
	c.b.received <- cp

	switch p := cp.(type) {
	case *packets.ConnectPacket:
		ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
		ack.ReturnCode = byte(c.b.connackCode.Load())
		c.inject(ack)
	case *packets.SubscribePacket:
		ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
		ack.MessageID = p.MessageID
		ack.ReturnCodes = append(ack.ReturnCodes, p.Qoss...)
		c.inject(ack)
	case *packets.UnsubscribePacket:
		ack := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
		ack.MessageID = p.MessageID
		c.inject(ack)
	case *packets.PublishPacket:
		switch p.Qos {
		case 1:
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
			ack.MessageID = p.MessageID
			c.inject(ack)
		case 2:
			rec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
			rec.MessageID = p.MessageID
			c.inject(rec)
		}
	case *packets.PubrelPacket:
		comp := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
		comp.MessageID = p.MessageID
		c.inject(comp)
	}
}
