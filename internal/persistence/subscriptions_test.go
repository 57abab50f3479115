package persistence

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

func subscriptionFactories(t *testing.T) map[string]func() SubscriptionStore {
	return map[string]func() SubscriptionStore{
		"memory": func() SubscriptionStore { return NewMemorySubscriptionStore() },
		"sqlite": func() SubscriptionStore {
			db := openTestDB(t, filepath.Join(t.TempDir(), "subs.db"))
			t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
			return NewSQLiteSubscriptionStore(db.DB)
		},
	}
}

func TestSubscriptionStoreLifecycle(t *testing.T) {
	for name, newStore := range subscriptionFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			err := s.Subscribe(ctx, "c1",
				Subscription{Topic: "b/#", QoS: 1},
				Subscription{Topic: "a/+", QoS: 0},
			)
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			// re-subscribing replaces the QoS
			if err := s.Subscribe(ctx, "c1", Subscription{Topic: "a/+", QoS: 2}); err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}

			subs, err := s.Subscriptions(ctx, "c1")
			if err != nil {
				t.Fatalf("Subscriptions() error = %v", err)
			}
			want := []Subscription{{Topic: "a/+", QoS: 2}, {Topic: "b/#", QoS: 1}}
			if !reflect.DeepEqual(subs, want) {
				t.Errorf("Subscriptions() = %v, want %v", subs, want)
			}

			if err := s.Unsubscribe(ctx, "c1", "b/#"); err != nil {
				t.Fatalf("Unsubscribe() error = %v", err)
			}
			subs, _ = s.Subscriptions(ctx, "c1")
			if len(subs) != 1 || subs[0].Topic != "a/+" {
				t.Errorf("after Unsubscribe Subscriptions() = %v", subs)
			}
			pending, _ := s.PendingUnsubscribes(ctx, "c1")
			if !reflect.DeepEqual(pending, []string{"b/#"}) {
				t.Errorf("PendingUnsubscribes() = %v", pending)
			}

			if err := s.UnsubscribeAcked(ctx, "c1", "b/#"); err != nil {
				t.Fatalf("UnsubscribeAcked() error = %v", err)
			}
			pending, _ = s.PendingUnsubscribes(ctx, "c1")
			if len(pending) != 0 {
				t.Errorf("pending after ack = %v", pending)
			}

			if err := s.Clear(ctx, "c1"); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			subs, _ = s.Subscriptions(ctx, "c1")
			if len(subs) != 0 {
				t.Errorf("after Clear Subscriptions() = %v", subs)
			}
		})
	}
}

func TestSubscriptionStoreResubscribeClearsPending(t *testing.T) {
	for name, newStore := range subscriptionFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			_ = s.Subscribe(ctx, "c1", Subscription{Topic: "x", QoS: 1})
			_ = s.Unsubscribe(ctx, "c1", "x")
			_ = s.Subscribe(ctx, "c1", Subscription{Topic: "x", QoS: 1})

			pending, _ := s.PendingUnsubscribes(ctx, "c1")
			if len(pending) != 0 {
				t.Errorf("PendingUnsubscribes() = %v, want none", pending)
			}
			// a late UNSUBACK must not drop the renewed subscription
			_ = s.UnsubscribeAcked(ctx, "c1", "x")
			subs, _ := s.Subscriptions(ctx, "c1")
			if len(subs) != 1 {
				t.Errorf("Subscriptions() = %v, want [x]", subs)
			}
		})
	}
}

func TestSQLiteSubscriptionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subs.db")

	db := openTestDB(t, path)
	s := NewSQLiteSubscriptionStore(db.DB)
	_ = s.Subscribe(ctx, "c1", Subscription{Topic: "keep", QoS: 1}, Subscription{Topic: "drop", QoS: 0})
	_ = s.Unsubscribe(ctx, "c1", "drop")
	db.Close() //nolint:errcheck // Test cleanup

	db = openTestDB(t, path)
	defer db.Close() //nolint:errcheck // Test cleanup
	s = NewSQLiteSubscriptionStore(db.DB)

	subs, _ := s.Subscriptions(ctx, "c1")
	pending, _ := s.PendingUnsubscribes(ctx, "c1")
	if len(subs) != 1 || subs[0].Topic != "keep" {
		t.Errorf("Subscriptions() = %v", subs)
	}
	if !reflect.DeepEqual(pending, []string{"drop"}) {
		t.Errorf("PendingUnsubscribes() = %v", pending)
	}
}
