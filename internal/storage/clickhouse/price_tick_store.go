package clickhouse

import (
	"context"
	"fmt"
	"time"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/observability"
	"model-token-engine/internal/storage"
)

// PriceTickStore implements storage.PriceHistoryStore using ClickHouse.
type PriceTickStore struct {
	conn *Conn
}

// NewPriceTickStore creates a new PriceTickStore.
func NewPriceTickStore(conn *Conn) *PriceTickStore {
	return &PriceTickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceTickStore)(nil)

// Insert adds a price tick.
func (s *PriceTickStore) Insert(ctx context.Context, t *domain.PriceTick) error {
	if t == nil || t.ModelID == "" || t.TimestampMs < 0 {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (
			model_id, token_address, tx_hash, kind, amount, supply_baseline,
			total_supply, old_price, new_price, impact_pct, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		t.ModelID, t.TokenAddress, t.TransactionHash, string(t.Kind),
		t.Amount, t.SupplyBaseline, t.TotalSupply,
		t.OldPrice, t.NewPrice, t.ImpactPct, uint64(t.TimestampMs),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "price_ticks_insert", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByModelID retrieves all ticks of a model, ordered by timestamp ASC.
func (s *PriceTickStore) GetByModelID(ctx context.Context, modelID string) ([]*domain.PriceTick, error) {
	query := `
		SELECT model_id, token_address, tx_hash, kind, amount, supply_baseline,
			total_supply, old_price, new_price, impact_pct, timestamp_ms
		FROM price_ticks
		WHERE model_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, modelID)
	if err != nil {
		return nil, fmt.Errorf("query by model id: %w", err)
	}
	defer rows.Close()

	return scanPriceTicks(rows)
}

// GetByTimeRange retrieves ticks of a model within [start, end] (inclusive).
func (s *PriceTickStore) GetByTimeRange(ctx context.Context, modelID string, start, end int64) ([]*domain.PriceTick, error) {
	query := `
		SELECT model_id, token_address, tx_hash, kind, amount, supply_baseline,
			total_supply, old_price, new_price, impact_pct, timestamp_ms
		FROM price_ticks
		WHERE model_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, modelID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPriceTicks(rows)
}

// scanPriceTicks scans multiple rows.
func scanPriceTicks(rows chRows) ([]*domain.PriceTick, error) {
	var ticks []*domain.PriceTick

	for rows.Next() {
		var t domain.PriceTick
		var kind string
		var timestampMs uint64

		err := rows.Scan(
			&t.ModelID, &t.TokenAddress, &t.TransactionHash, &kind,
			&t.Amount, &t.SupplyBaseline, &t.TotalSupply,
			&t.OldPrice, &t.NewPrice, &t.ImpactPct, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price tick row: %w", err)
		}

		t.Kind = domain.OperationKind(kind)
		t.TimestampMs = int64(timestampMs)
		ticks = append(ticks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price tick rows: %w", err)
	}

	return ticks, nil
}
