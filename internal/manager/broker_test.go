package manager

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

// fakeBroker answers the client side of the protocol in-process.
type fakeBroker struct {
	connackCode atomic.Uint32
	rejected    sync.Map // topic -> struct{}

	conns    chan *brokerConn
	received chan packets.ControlPacket
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		conns:    make(chan *brokerConn, 16),
		received: make(chan packets.ControlPacket, 256),
	}
}

func (b *fakeBroker) newTransport() (transport.Transport, error) {
	return &brokerConn{
		b:      b,
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}, nil
}

// expect waits for the next client packet of the given type, skipping others.
func (b *fakeBroker) expect(t *testing.T, kind byte) packets.ControlPacket {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case cp := <-b.received:
			if packetType(cp) == kind {
				return cp
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", packets.PacketNames[kind])
			return nil
		}
	}
}

func (b *fakeBroker) nextConn(t *testing.T) *brokerConn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func packetType(cp packets.ControlPacket) byte {
	switch cp.(type) {
	case *packets.ConnectPacket:
		return packets.Connect
	case *packets.PublishPacket:
		return packets.Publish
	case *packets.SubscribePacket:
		return packets.Subscribe
	case *packets.UnsubscribePacket:
		return packets.Unsubscribe
	case *packets.DisconnectPacket:
		return packets.Disconnect
	case *packets.PingreqPacket:
		return packets.Pingreq
	default:
		return 0
	}
}

type brokerConn struct {
	b         *fakeBroker
	h         transport.Handler
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *brokerConn) Open(_ context.Context, h transport.Handler) error {
	c.h = h
	c.b.conns <- c
	go c.run()
	return nil
}

func (c *brokerConn) Send(b []byte) error {
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

func (c *brokerConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop breaks the connection from the broker side.
func (c *brokerConn) drop() {
	c.h.HandleError(errors.New("broker dropped connection"))
}

// inject sends cp to the client.
func (c *brokerConn) inject(cp packets.ControlPacket) {
	var buf bytes.Buffer
	if err := cp.Write(&buf); err != nil {
		panic(err)
	}
	c.h.HandleData(buf.Bytes())
}

func (c *brokerConn) run() {
	c.h.HandleOpen()
	for {
		select {
		case raw := <-c.in:
			cp, err := packets.ReadPacket(bytes.NewReader(raw))
			if err != nil {
				c.h.HandleError(err)
				return
			}
			c.b.received <- cp
			if reply := c.b.reply(cp); reply != nil {
				c.inject(reply)
			}
		case <-c.closed:
			c.drain()
			return
		}
	}
}

// drain records what the client queued before closing, such as DISCONNECT.
func (c *brokerConn) drain() {
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

func (b *fakeBroker) reply(cp packets.ControlPacket) packets.ControlPacket {
	switch p := cp.(type) {
	case *packets.ConnectPacket:
		ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
		ack.ReturnCode = byte(b.connackCode.Load())
		return ack
	case *packets.SubscribePacket:
		ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
		ack.MessageID = p.MessageID
		for i, topic := range p.Topics {
			if _, no := b.rejected.Load(topic); no {
				ack.ReturnCodes = append(ack.ReturnCodes, subackFailure)
				continue
			}
			ack.ReturnCodes = append(ack.ReturnCodes, p.Qoss[i])
		}
		return ack
	case *packets.UnsubscribePacket:
		ack := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
		ack.MessageID = p.MessageID
		return ack
	case *packets.PublishPacket:
		if p.Qos == 1 {
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
			ack.MessageID = p.MessageID
			return ack
		}
	}
	return nil
}
