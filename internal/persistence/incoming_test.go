package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func incomingFactories(t *testing.T) map[string]func() IncomingStore {
	return map[string]func() IncomingStore{
		"memory": func() IncomingStore { return NewMemoryIncomingStore() },
		"sqlite": func() IncomingStore {
			db := openTestDB(t, filepath.Join(t.TempDir(), "incoming.db"))
			t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
			return NewSQLiteIncomingStore(db.DB)
		},
	}
}

var heldAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func held(id, topic string, offset time.Duration) IncomingMessage {
	return IncomingMessage{
		ID:         id,
		ClientID:   "c1",
		Topic:      topic,
		Payload:    []byte(id),
		QoS:        1,
		ReceivedAt: heldAt.Add(offset),
	}
}

func ids(msgs []IncomingMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestIncomingStoreOrdersByReceivedTime(t *testing.T) {
	for name, newStore := range incomingFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			// saved out of order; "b" and "c" share a timestamp
			for _, m := range []IncomingMessage{
				held("d", "alerts/door", 3*time.Second),
				held("b", "sensors/temp", time.Second),
				held("c", "sensors/temp", time.Second),
				held("a", "sensors/temp", 0),
				held("z", "sensors/temp", 500*time.Millisecond),
			} {
				if err := s.Save(ctx, m); err != nil {
					t.Fatalf("Save(%s) error = %v", m.ID, err)
				}
			}
			other := held("x", "sensors/temp", 0)
			other.ClientID = "c2"
			if err := s.Save(ctx, other); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			all, err := s.Messages(ctx, "c1")
			if err != nil {
				t.Fatalf("Messages() error = %v", err)
			}
			if got, want := ids(all), []string{"a", "z", "b", "c", "d"}; !reflect.DeepEqual(got, want) {
				t.Errorf("Messages() = %v, want %v", got, want)
			}
			if !all[0].ReceivedAt.Equal(heldAt) || string(all[0].Payload) != "a" || all[0].QoS != 1 {
				t.Errorf("first message = %+v", all[0])
			}

			temps, _ := s.Messages(ctx, "c1", "sensors/temp")
			if got, want := ids(temps), []string{"a", "z", "b", "c"}; !reflect.DeepEqual(got, want) {
				t.Errorf("Messages(sensors/temp) = %v, want %v", got, want)
			}
		})
	}
}

func TestIncomingStoreDelete(t *testing.T) {
	for name, newStore := range incomingFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			for i, id := range []string{"a", "b", "c", "d"} {
				if err := s.Save(ctx, held(id, "t", time.Duration(i)*time.Minute)); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
			}

			if err := s.Delete(ctx, "c1", "b", "unknown"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := s.Delete(ctx, "c2", "a"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			msgs, _ := s.Messages(ctx, "c1")
			if got, want := ids(msgs), []string{"a", "c", "d"}; !reflect.DeepEqual(got, want) {
				t.Errorf("after Delete = %v, want %v", got, want)
			}

			n, err := s.DeleteOlderThan(ctx, heldAt.Add(2*time.Minute))
			if err != nil {
				t.Fatalf("DeleteOlderThan() error = %v", err)
			}
			if n != 1 {
				t.Errorf("DeleteOlderThan() removed %d, want 1", n)
			}
			msgs, _ = s.Messages(ctx, "c1")
			if got, want := ids(msgs), []string{"c", "d"}; !reflect.DeepEqual(got, want) {
				t.Errorf("after DeleteOlderThan = %v, want %v", got, want)
			}

			if err := s.DeleteAll(ctx); err != nil {
				t.Fatalf("DeleteAll() error = %v", err)
			}
			if msgs, _ = s.Messages(ctx, "c1"); len(msgs) != 0 {
				t.Errorf("after DeleteAll = %v", ids(msgs))
			}
		})
	}
}

func TestIncomingStoreRejectsInvalid(t *testing.T) {
	for name, newStore := range incomingFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			for _, m := range []IncomingMessage{
				{ClientID: "c1", Topic: "t"},
				{ID: "a", Topic: "t"},
				{ID: "a", ClientID: "c1"},
			} {
				if err := s.Save(context.Background(), m); !errors.Is(err, ErrInvalidMessage) {
					t.Errorf("Save(%+v) error = %v, want ErrInvalidMessage", m, err)
				}
			}
		})
	}
}

func TestSQLiteIncomingStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "incoming.db")

	db := openTestDB(t, path)
	if err := NewSQLiteIncomingStore(db.DB).Save(ctx, held("a", "t", 0)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	db.Close() //nolint:errcheck // reopened below

	db = openTestDB(t, path)
	defer db.Close() //nolint:errcheck // Test cleanup
	msgs, err := NewSQLiteIncomingStore(db.DB).Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "a" {
		t.Errorf("Messages() after reopen = %v", ids(msgs))
	}
}
