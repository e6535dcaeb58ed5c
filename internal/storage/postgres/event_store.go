package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/observability"
	"model-token-engine/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	event_id, operation_id, model_id, token_address, kind, stage, failed_stage,
	status, tx_hash, price, total_supply, impact_pct, detail, occurred_at
`

// Append adds a transition event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Append(ctx context.Context, e *domain.UpdateEvent) error {
	if e == nil || e.EventID == "" || e.OperationID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO supply_update_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		e.EventID,
		e.OperationID,
		e.ModelID,
		e.TokenAddress,
		string(e.Kind),
		string(e.Stage),
		e.FailedStage,
		e.Status,
		e.TransactionHash,
		e.Price,
		e.TotalSupply,
		e.ImpactPct,
		e.Detail,
		e.OccurredAt,
	)
	observability.RecordDBQuery("postgres", "events_append", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append supply update event: %w", err)
	}
	return nil
}

// GetByOperationID retrieves all events of one operation, in append order.
func (s *EventStore) GetByOperationID(ctx context.Context, operationID string) ([]*domain.UpdateEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM supply_update_events
		WHERE operation_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("query events by operation: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByModelID retrieves the most recent events of a model, newest first.
func (s *EventStore) GetByModelID(ctx context.Context, modelID string, limit int) ([]*domain.UpdateEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM supply_update_events
		WHERE model_id = $1
		ORDER BY seq DESC
	`
	args := []interface{}{modelID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events by model: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into UpdateEvents.
func scanEvents(rows pgx.Rows) ([]*domain.UpdateEvent, error) {
	var events []*domain.UpdateEvent

	for rows.Next() {
		var e domain.UpdateEvent
		var kind, stage string

		err := rows.Scan(
			&e.EventID,
			&e.OperationID,
			&e.ModelID,
			&e.TokenAddress,
			&kind,
			&stage,
			&e.FailedStage,
			&e.Status,
			&e.TransactionHash,
			&e.Price,
			&e.TotalSupply,
			&e.ImpactPct,
			&e.Detail,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan supply update event: %w", err)
		}

		e.Kind = domain.OperationKind(kind)
		e.Stage = domain.Stage(stage)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supply update events: %w", err)
	}
	return events, nil
}
