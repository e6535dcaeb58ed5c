package memory

import (
	"context"
	"sort"
	"sync"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/storage"
)

// ModelStore is an in-memory implementation of storage.ModelStore.
type ModelStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Model // keyed by id
	byToken map[string]*domain.Model // keyed by token address (unique when set)
}

// NewModelStore creates a new in-memory model store.
func NewModelStore() *ModelStore {
	return &ModelStore{
		byID:    make(map[string]*domain.Model),
		byToken: make(map[string]*domain.Model),
	}
}

// Insert adds a new model. Returns ErrDuplicateKey if id or token address already exists.
func (s *ModelStore) Insert(_ context.Context, m *domain.Model) error {
	if m == nil || m.ID == "" || m.QuotedPrice < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[m.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if m.TokenAddress != "" {
		if _, exists := s.byToken[m.TokenAddress]; exists {
			return storage.ErrDuplicateKey
		}
	}

	modelCopy := *m
	s.byID[m.ID] = &modelCopy
	if m.TokenAddress != "" {
		s.byToken[m.TokenAddress] = &modelCopy
	}
	return nil
}

// GetByID retrieves a model by ID. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByID(_ context.Context, id string) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	modelCopy := *m
	return &modelCopy, nil
}

// GetByTokenAddress retrieves a model by token address. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByTokenAddress(_ context.Context, tokenAddress string) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.byToken[tokenAddress]
	if !exists {
		return nil, storage.ErrNotFound
	}

	modelCopy := *m
	return &modelCopy, nil
}

// List returns all models ordered by creation time ASC.
func (s *ModelStore) List(_ context.Context) ([]*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Model, 0, len(s.byID))
	for _, m := range s.byID {
		modelCopy := *m
		result = append(result, &modelCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// UpdatePrice writes a new price if the stored version matches expectedVersion.
func (s *ModelStore) UpdatePrice(_ context.Context, id string, expectedVersion int64, price float64, updatedAt int64) (*domain.Model, error) {
	if price < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if m.Version != expectedVersion {
		return nil, storage.ErrVersionConflict
	}

	// byID and byToken share the pointer
	m.QuotedPrice = price
	m.Version++
	m.UpdatedAt = updatedAt

	modelCopy := *m
	return &modelCopy, nil
}

var _ storage.ModelStore = (*ModelStore)(nil)
