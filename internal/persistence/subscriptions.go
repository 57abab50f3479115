package persistence

import (
	"context"
	"sort"
	"sync"
)

// Subscription is a stored topic filter.
type Subscription struct {
	Topic string
	QoS   byte
}

// SubscriptionStore remembers what a client is subscribed to across
// reconnects, including unsubscribes the broker has not acknowledged.
type SubscriptionStore interface {
	// Subscribe adds or replaces filters and clears any pending unsubscribe
	// for them.
	Subscribe(ctx context.Context, clientID string, subs ...Subscription) error

	// Unsubscribe marks filters as pending removal.
	Unsubscribe(ctx context.Context, clientID string, topics ...string) error

	// UnsubscribeAcked removes filters once the broker confirmed the UNSUBSCRIBE.
	UnsubscribeAcked(ctx context.Context, clientID string, topics ...string) error

	// Subscriptions returns active filters ordered by topic.
	Subscriptions(ctx context.Context, clientID string) ([]Subscription, error)

	// PendingUnsubscribes returns filters awaiting an UNSUBACK, ordered by topic.
	PendingUnsubscribes(ctx context.Context, clientID string) ([]string, error)

	// Clear forgets everything stored for a client.
	Clear(ctx context.Context, clientID string) error
}

type storedSubscription struct {
	qos     byte
	pending bool
}

// MemorySubscriptionStore keeps subscriptions in process memory.
type MemorySubscriptionStore struct {
	mu      sync.Mutex
	clients map[string]map[string]storedSubscription
}

// NewMemorySubscriptionStore creates an empty store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{clients: make(map[string]map[string]storedSubscription)}
}

func (s *MemorySubscriptionStore) client(clientID string) map[string]storedSubscription {
	m, ok := s.clients[clientID]
	if !ok {
		m = make(map[string]storedSubscription)
		s.clients[clientID] = m
	}
	return m
}

// Subscribe implements SubscriptionStore.
func (s *MemorySubscriptionStore) Subscribe(_ context.Context, clientID string, subs ...Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.client(clientID)
	for _, sub := range subs {
		m[sub.Topic] = storedSubscription{qos: sub.QoS}
	}
	return nil
}

// Unsubscribe implements SubscriptionStore.
func (s *MemorySubscriptionStore) Unsubscribe(_ context.Context, clientID string, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.client(clientID)
	for _, t := range topics {
		st := m[t]
		st.pending = true
		m[t] = st
	}
	return nil
}

// UnsubscribeAcked implements SubscriptionStore.
func (s *MemorySubscriptionStore) UnsubscribeAcked(_ context.Context, clientID string, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.client(clientID)
	for _, t := range topics {
		if st, ok := m[t]; ok && st.pending {
			delete(m, t)
		}
	}
	return nil
}

// Subscriptions implements SubscriptionStore.
func (s *MemorySubscriptionStore) Subscriptions(_ context.Context, clientID string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Subscription
	for t, st := range s.clients[clientID] {
		if !st.pending {
			out = append(out, Subscription{Topic: t, QoS: st.qos})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

// PendingUnsubscribes implements SubscriptionStore.
func (s *MemorySubscriptionStore) PendingUnsubscribes(_ context.Context, clientID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for t, st := range s.clients[clientID] {
		if st.pending {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Clear implements SubscriptionStore.
func (s *MemorySubscriptionStore) Clear(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return nil
}
