package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type flowKey struct {
	clientID  string
	direction Direction
	messageID uint16
}

// MemoryStore keeps flows in process memory.
type MemoryStore struct {
	limits Limits

	mu    sync.Mutex
	seq   int64
	flows map[flowKey]Flow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		limits: limits,
		flows:  make(map[flowKey]Flow),
	}
}

func keyOf(f Flow) flowKey {
	return flowKey{clientID: f.ClientID, direction: f.Direction, messageID: f.MessageID}
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, f Flow) error {
	if err := f.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(f)
	if _, ok := s.flows[k]; ok {
		return fmt.Errorf("%w: %s %s %d", ErrFlowExists, f.ClientID, f.Direction, f.MessageID)
	}

	count, size := s.usageLocked(f.ClientID)
	if err := s.limits.check(count, size, f); err != nil {
		return err
	}

	s.seq++
	f.Seq = s.seq
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.Payload = append([]byte(nil), f.Payload...)
	s.flows[k] = f
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, f Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(f)
	old, ok := s.flows[k]
	if !ok {
		return fmt.Errorf("%w: %s %s %d", ErrFlowNotFound, f.ClientID, f.Direction, f.MessageID)
	}
	f.Seq = old.Seq
	f.CreatedAt = old.CreatedAt
	f.Payload = append([]byte(nil), f.Payload...)
	s.flows[k] = f
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, clientID string, dir Direction, id uint16) (Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[flowKey{clientID, dir, id}]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s %s %d", ErrFlowNotFound, clientID, dir, id)
	}
	return f, nil
}

// Ack implements Store.
func (s *MemoryStore) Ack(_ context.Context, clientID string, dir Direction, id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := flowKey{clientID, dir, id}
	if _, ok := s.flows[k]; !ok {
		return fmt.Errorf("%w: %s %s %d", ErrFlowNotFound, clientID, dir, id)
	}
	delete(s.flows, k)
	return nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(_ context.Context, clientID string, dir Direction) ([]Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Flow
	for k, f := range s.flows {
		if k.clientID == clientID && k.direction == dir {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.flows {
		if k.clientID == clientID {
			delete(s.flows, k)
		}
	}
	return nil
}

// DeleteAll implements Store.
func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = make(map[flowKey]Flow)
	return nil
}

// Persistent implements Store.
func (s *MemoryStore) Persistent() bool {
	return false
}

func (s *MemoryStore) usageLocked(clientID string) (count int, size int64) {
	for k, f := range s.flows {
		if k.clientID == clientID {
			count++
			size += int64(len(f.Payload))
		}
	}
	return count, size
}
