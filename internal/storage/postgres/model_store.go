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

// ModelStore implements storage.ModelStore using PostgreSQL.
type ModelStore struct {
	pool *Pool
}

// NewModelStore creates a new ModelStore.
func NewModelStore(pool *Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

const modelColumns = `
	id, name, model_type, description, owner_id, token_name, token_symbol,
	COALESCE(token_address, ''), custodial_address, custodial_key_ref,
	quoted_price, version, created_at, updated_at
`

// Insert adds a new model. Returns ErrDuplicateKey if id or token address exists.
func (s *ModelStore) Insert(ctx context.Context, m *domain.Model) error {
	if m == nil || m.ID == "" || m.QuotedPrice < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO models (
			id, name, model_type, description, owner_id, token_name, token_symbol,
			token_address, custodial_address, custodial_key_ref,
			quoted_price, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		m.ID,
		m.Name,
		string(m.Type),
		m.Description,
		m.OwnerID,
		m.TokenName,
		m.TokenSymbol,
		m.TokenAddress,
		m.CustodialAddress,
		m.CustodialKeyRef,
		m.QuotedPrice,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	)
	observability.RecordDBQuery("postgres", "models_insert", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

// GetByID retrieves a model by ID. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByID(ctx context.Context, id string) (*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`

	m, err := scanModel(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get model by id: %w", err)
	}
	return m, nil
}

// GetByTokenAddress retrieves a model by token address. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByTokenAddress(ctx context.Context, tokenAddress string) (*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE token_address = $1`

	m, err := scanModel(s.pool.QueryRow(ctx, query, tokenAddress))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get model by token address: %w", err)
	}
	return m, nil
}

// List returns all models ordered by creation time ASC.
func (s *ModelStore) List(ctx context.Context) ([]*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []*domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return models, nil
}

// UpdatePrice writes a new price if the stored version matches expectedVersion.
// The version check and the write are a single statement.
func (s *ModelStore) UpdatePrice(ctx context.Context, id string, expectedVersion int64, price float64, updatedAt int64) (*domain.Model, error) {
	if price < 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		UPDATE models
		SET quoted_price = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
		RETURNING ` + modelColumns

	start := time.Now()
	m, err := scanModel(s.pool.QueryRow(ctx, query, id, expectedVersion, price, updatedAt))
	observability.RecordDBQuery("postgres", "models_update_price", time.Since(start).Seconds(), err)
	if err == nil {
		return m, nil
	}
	if !isNotFoundError(err) {
		return nil, fmt.Errorf("update model price: %w", err)
	}

	// No row matched: distinguish a missing model from a stale version.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM models WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check model exists: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrVersionConflict
}

// scanModel scans a single row into Model.
func scanModel(row pgx.Row) (*domain.Model, error) {
	var m domain.Model
	var modelType string

	err := row.Scan(
		&m.ID,
		&m.Name,
		&modelType,
		&m.Description,
		&m.OwnerID,
		&m.TokenName,
		&m.TokenSymbol,
		&m.TokenAddress,
		&m.CustodialAddress,
		&m.CustodialKeyRef,
		&m.QuotedPrice,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Type = domain.ModelType(modelType)
	return &m, nil
}
