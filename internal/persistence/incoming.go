package persistence

import (
	"bytes"
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// IncomingMessage is a received message held until a handler for its
// topic is registered.
type IncomingMessage struct {
	ID         string
	ClientID   string
	Topic      string
	Payload    []byte
	QoS        byte
	Retained   bool
	ReceivedAt time.Time
}

func (m IncomingMessage) validate() error {
	if m.ID == "" || m.ClientID == "" || m.Topic == "" {
		return ErrInvalidMessage
	}
	return nil
}

// IncomingStore holds received messages nobody was listening for.
type IncomingStore interface {
	// Save stores a message. A zero ReceivedAt is set to the current time.
	Save(ctx context.Context, m IncomingMessage) error

	// Messages returns a client's messages oldest first, limited to the
	// given topics when any are passed.
	Messages(ctx context.Context, clientID string, topics ...string) ([]IncomingMessage, error)

	// Delete removes messages by id. Unknown ids are ignored.
	Delete(ctx context.Context, clientID string, ids ...string) error

	// DeleteOlderThan removes messages of every client received before t
	// and returns how many went.
	DeleteOlderThan(ctx context.Context, t time.Time) (int, error)

	// DeleteAll removes every stored message.
	DeleteAll(ctx context.Context) error
}

// MemoryIncomingStore keeps held messages in process memory.
type MemoryIncomingStore struct {
	mu       sync.Mutex
	messages []IncomingMessage
}

// NewMemoryIncomingStore creates an empty store.
func NewMemoryIncomingStore() *MemoryIncomingStore {
	return &MemoryIncomingStore{}
}

// Save implements IncomingStore.
func (s *MemoryIncomingStore) Save(_ context.Context, m IncomingMessage) error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	m.Payload = bytes.Clone(m.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

// Messages implements IncomingStore.
func (s *MemoryIncomingStore) Messages(_ context.Context, clientID string, topics ...string) ([]IncomingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []IncomingMessage
	for _, m := range s.messages {
		if m.ClientID != clientID {
			continue
		}
		if len(topics) > 0 && !slices.Contains(topics, m.Topic) {
			continue
		}
		m.Payload = bytes.Clone(m.Payload)
		out = append(out, m)
	}
	// stable keeps arrival order for equal timestamps
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// Delete implements IncomingStore.
func (s *MemoryIncomingStore) Delete(_ context.Context, clientID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = slices.DeleteFunc(s.messages, func(m IncomingMessage) bool {
		return m.ClientID == clientID && slices.Contains(ids, m.ID)
	})
	return nil
}

// DeleteOlderThan implements IncomingStore.
func (s *MemoryIncomingStore) DeleteOlderThan(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.messages)
	s.messages = slices.DeleteFunc(s.messages, func(m IncomingMessage) bool {
		return m.ReceivedAt.Before(t)
	})
	return before - len(s.messages), nil
}

// DeleteAll implements IncomingStore.
func (s *MemoryIncomingStore) DeleteAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return nil
}
