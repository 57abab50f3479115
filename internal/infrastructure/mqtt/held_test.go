package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/persistence"
)

func holdingConfig() config.Config {
	cfg := testConfig()
	cfg.Persistence.Incoming = config.IncomingConfig{TTL: 60, CleanupInterval: 10}
	return cfg
}

// waitHeld waits until the store holds n messages for the test client.
func waitHeld(t *testing.T, store persistence.IncomingStore, n int) []persistence.IncomingMessage {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		msgs, err := store.Messages(context.Background(), testClientID)
		if err != nil {
			t.Fatalf("Messages() error = %v", err)
		}
		if len(msgs) == n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("held %d messages, want %d", len(msgs), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHeldMessagesDeliveredOnSubscribe(t *testing.T) {
	store := persistence.NewMemoryIncomingStore()
	f := connectFixtureWith(t, holdingConfig(), Deps{Incoming: store})

	conn := f.broker.current()
	conn.deliver("alerts/door", []byte("first"), 1, 7)
	conn.deliver("alerts/window", []byte("qos0"), 0, 0)
	conn.deliver("alerts/door", []byte("second"), 1, 8)
	conn.deliver("sensors/temp", []byte("21.5"), 1, 9)

	held := waitHeld(t, store, 3)
	if !held[0].ReceivedAt.Equal(f.clock.Now()) || held[0].QoS != 1 {
		t.Errorf("held[0] = %+v", held[0])
	}
	expect[*packets.PubackPacket](t, f.broker)

	var got []string
	if err := f.client.Subscribe("alerts/+", 1, func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	want := []string{"alerts/door=first", "alerts/door=second"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("held deliveries = %v, want %v", got, want)
	}
	left := waitHeld(t, store, 1)
	if left[0].Topic != "sensors/temp" {
		t.Errorf("left in store = %+v, want sensors/temp", left[0])
	}
}

func TestHeldMessagesYieldToDefaultHandler(t *testing.T) {
	store := persistence.NewMemoryIncomingStore()
	f := connectFixtureWith(t, holdingConfig(), Deps{Incoming: store})

	got := make(chan string, 1)
	f.client.SetDefaultHandler(func(topic string, _ []byte) error {
		got <- topic
		return nil
	})

	f.broker.current().deliver("alerts/door", []byte("x"), 1, 3)
	if topic := waitFor(t, got, "default handler"); topic != "alerts/door" {
		t.Errorf("default handler got %q", topic)
	}
	if msgs, _ := store.Messages(context.Background(), testClientID); len(msgs) != 0 {
		t.Errorf("held %d messages, want none", len(msgs))
	}
}

func TestHeldMessagesExpire(t *testing.T) {
	store := persistence.NewMemoryIncomingStore()
	f := connectFixtureWith(t, holdingConfig(), Deps{Incoming: store})

	f.broker.current().deliver("alerts/door", []byte("x"), 1, 3)
	waitHeld(t, store, 1)

	f.clock.Advance(60 * time.Second)
	waitHeld(t, store, 1)

	f.clock.Advance(10 * time.Second)
	waitHeld(t, store, 0)
}

func TestHoldingOffWithoutTTL(t *testing.T) {
	store := persistence.NewMemoryIncomingStore()
	f := connectFixtureWith(t, testConfig(), Deps{Incoming: store})

	f.broker.current().deliver("alerts/door", []byte("x"), 1, 3)
	expect[*packets.PubackPacket](t, f.broker)

	got := make(chan string, 1)
	if err := f.client.Subscribe("alerts/#", 1, func(topic string, _ []byte) error {
		got <- topic
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	select {
	case topic := <-got:
		t.Errorf("handler got %q, want nothing held", topic)
	default:
	}
	if msgs, _ := store.Messages(context.Background(), testClientID); len(msgs) != 0 {
		t.Errorf("held %d messages with holding off", len(msgs))
	}
}
