package memory

import (
	"context"
	"sync"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.UpdateEvent // append order
	ids    map[string]struct{}
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		ids: make(map[string]struct{}),
	}
}

// Append adds a transition event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Append(_ context.Context, e *domain.UpdateEvent) error {
	if e == nil || e.EventID == "" || e.OperationID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	s.ids[e.EventID] = struct{}{}
	s.events = append(s.events, copyEvent(e))
	return nil
}

// GetByOperationID retrieves all events of one operation, in append order.
func (s *EventStore) GetByOperationID(_ context.Context, operationID string) ([]*domain.UpdateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UpdateEvent
	for _, e := range s.events {
		if e.OperationID == operationID {
			result = append(result, copyEvent(e))
		}
	}
	return result, nil
}

// GetByModelID retrieves the most recent events of a model, newest first.
func (s *EventStore) GetByModelID(_ context.Context, modelID string, limit int) ([]*domain.UpdateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.UpdateEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.ModelID != modelID {
			continue
		}
		result = append(result, copyEvent(e))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// copyEvent deep-copies nullable fields.
func copyEvent(e *domain.UpdateEvent) *domain.UpdateEvent {
	c := *e
	c.Price = copyFloat(e.Price)
	c.TotalSupply = copyFloat(e.TotalSupply)
	c.ImpactPct = copyFloat(e.ImpactPct)
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ storage.EventStore = (*EventStore)(nil)
