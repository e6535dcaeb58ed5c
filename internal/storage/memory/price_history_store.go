package memory

import (
	"context"
	"sort"
	"sync"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu      sync.RWMutex
	byModel map[string][]*domain.PriceTick
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		byModel: make(map[string][]*domain.PriceTick),
	}
}

// Insert adds a price tick.
func (s *PriceHistoryStore) Insert(_ context.Context, t *domain.PriceTick) error {
	if t == nil || t.ModelID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tickCopy := *t
	ticks := append(s.byModel[t.ModelID], &tickCopy)
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].TimestampMs < ticks[j].TimestampMs
	})
	s.byModel[t.ModelID] = ticks
	return nil
}

// GetByModelID retrieves all ticks of a model, ordered by timestamp ASC.
func (s *PriceHistoryStore) GetByModelID(ctx context.Context, modelID string) ([]*domain.PriceTick, error) {
	return s.GetByTimeRange(ctx, modelID, 0, 1<<62)
}

// GetByTimeRange retrieves ticks of a model within [start, end] (inclusive).
func (s *PriceHistoryStore) GetByTimeRange(_ context.Context, modelID string, start, end int64) ([]*domain.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceTick
	for _, t := range s.byModel[modelID] {
		if t.TimestampMs >= start && t.TimestampMs <= end {
			tickCopy := *t
			result = append(result, &tickCopy)
		}
	}
	return result, nil
}

var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)
