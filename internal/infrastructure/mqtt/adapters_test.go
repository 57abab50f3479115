package mqtt

import (
	"errors"
	"math"
	"testing"
)

type reading struct {
	Room string  `json:"room"`
	C    float64 `json:"c"`
}

func TestPublishJSON(t *testing.T) {
	f := connectFixture(t, testConfig())

	if err := f.client.PublishJSON("sensors/kitchen", reading{Room: "kitchen", C: 21.5}, 0, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	p := f.broker.expectPublish(t, "sensors/kitchen")
	if got := string(p.Payload); got != `{"room":"kitchen","c":21.5}` {
		t.Errorf("payload = %s", got)
	}

	err := f.client.PublishJSON("sensors/kitchen", math.Inf(1), 0, false)
	if !errors.Is(err, ErrInvalidPayload) || !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(+Inf) error = %v, want ErrInvalidPayload", err)
	}
}

func TestSubscribeJSON(t *testing.T) {
	f := connectFixture(t, testConfig())

	got := make(chan reading, 2)
	err := SubscribeJSON(f.client, "sensors/+", 0, func(_ string, r reading) error {
		got <- r
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeJSON() error = %v", err)
	}

	conn := f.broker.current()
	conn.deliver("sensors/hall", []byte("not json"), 0, 0)
	conn.deliver("sensors/hall", []byte(`{"room":"hall","c":19}`), 0, 0)
	if r := waitFor(t, got, "decoded reading"); r != (reading{Room: "hall", C: 19}) {
		t.Errorf("reading = %+v", r)
	}

	if err := SubscribeJSON[reading](f.client, "x", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("SubscribeJSON(nil) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeText(t *testing.T) {
	f := connectFixture(t, testConfig())

	got := make(chan string, 1)
	if err := f.client.SubscribeText("notes/#", 0, func(topic, text string) error {
		got <- topic + ":" + text
		return nil
	}); err != nil {
		t.Fatalf("SubscribeText() error = %v", err)
	}

	f.broker.current().deliver("notes/a", []byte("hello"), 0, 0)
	if s := waitFor(t, got, "text message"); s != "notes/a:hello" {
		t.Errorf("got %q", s)
	}
}
