package storage

import (
	"context"

	"model-token-engine/internal/domain"
)

// ModelStore provides access to models storage.
type ModelStore interface {
	// Insert adds a new model. Returns ErrDuplicateKey if id or token address exists.
	Insert(ctx context.Context, m *domain.Model) error

	// GetByID retrieves a model by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Model, error)

	// GetByTokenAddress retrieves the model owning a token. Returns ErrNotFound if not exists.
	GetByTokenAddress(ctx context.Context, tokenAddress string) (*domain.Model, error)

	// List returns all models ordered by creation time ASC.
	List(ctx context.Context) ([]*domain.Model, error)

	// UpdatePrice writes a new quoted price if the stored version equals
	// expectedVersion, incrementing the version. Returns the updated model,
	// ErrNotFound, or ErrVersionConflict.
	UpdatePrice(ctx context.Context, id string, expectedVersion int64, price float64, updatedAt int64) (*domain.Model, error)
}

// EventStore provides access to supply_update_events storage. Append-only.
type EventStore interface {
	// Append adds a transition event. Returns ErrDuplicateKey if event_id exists.
	Append(ctx context.Context, e *domain.UpdateEvent) error

	// GetByOperationID retrieves all events of one operation, in append order.
	GetByOperationID(ctx context.Context, operationID string) ([]*domain.UpdateEvent, error)

	// GetByModelID retrieves the most recent events of a model, newest first.
	// limit <= 0 returns all.
	GetByModelID(ctx context.Context, modelID string, limit int) ([]*domain.UpdateEvent, error)
}

// PriceHistoryStore provides access to price_ticks storage. Append-only.
type PriceHistoryStore interface {
	// Insert adds a price tick.
	Insert(ctx context.Context, t *domain.PriceTick) error

	// GetByModelID retrieves all ticks of a model, ordered by timestamp ASC.
	GetByModelID(ctx context.Context, modelID string) ([]*domain.PriceTick, error)

	// GetByTimeRange retrieves ticks of a model within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, modelID string, start, end int64) ([]*domain.PriceTick, error)
}
