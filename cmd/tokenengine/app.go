package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"model-token-engine/internal/aptos"
	"model-token-engine/internal/config"
	"model-token-engine/internal/coordinator"
	"model-token-engine/internal/custody"
	"model-token-engine/internal/journal"
	"model-token-engine/internal/ledger"
	"model-token-engine/internal/storage"
	chstore "model-token-engine/internal/storage/clickhouse"
	"model-token-engine/internal/storage/memory"
	pgstore "model-token-engine/internal/storage/postgres"
)

// stores holds the record stores selected by configuration.
type stores struct {
	models  storage.ModelStore
	events  storage.EventStore
	history storage.PriceHistoryStore // nil when no history backend is configured
}

// app is the wired engine.
type app struct {
	stores  *stores
	journal *journal.Recorder
	engine  *coordinator.Coordinator
	cleanup func()
}

// newApp builds stores, custody, ledger gateway and coordinator from cfg.
func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	st, closeStores, err := createStores(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	keys, closeKeys, err := createCustody(ctx, cfg, logger)
	if err != nil {
		closeStores()
		return nil, err
	}

	cleanup := func() {
		closeKeys()
		closeStores()
	}

	node := aptos.NewNodeClient(cfg.Aptos.NodeURL)
	// The gateway owns supply retries; the indexer transport makes one attempt.
	indexer := aptos.NewIndexerClient(cfg.Aptos.IndexerURL, aptos.WithMaxRetries(0))
	gateway, err := ledger.NewGateway(cfg.Aptos, node, indexer, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create ledger gateway: %w", err)
	}

	rec := journal.NewRecorder(st.events, logger)
	engine, err := coordinator.New(coordinator.Options{
		Ledger:          gateway,
		Custody:         keys,
		Models:          st.models,
		Journal:         rec,
		Logger:          logger,
		History:         st.history,
		SubmitTimeout:   cfg.Aptos.SubmitTimeout,
		MaxPriceRetries: cfg.MaxPriceRetries,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"network":  cfg.Aptos.Network,
		"node":     cfg.Aptos.NodeURL,
		"storage":  cfg.Storage.Backend,
		"custody":  cfg.Custody.Provider,
		"history":  st.history != nil,
		"contract": cfg.Aptos.ContractAddress,
	}).Info("engine initialized")

	return &app{stores: st, journal: rec, engine: engine, cleanup: cleanup}, nil
}

// createStores creates the configured record stores.
func createStores(ctx context.Context, cfg config.StorageConfig) (*stores, func(), error) {
	if cfg.Backend == config.BackendMemory {
		return &stores{
			models:  memory.NewModelStore(),
			events:  memory.NewEventStore(),
			history: memory.NewPriceHistoryStore(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(cfg.MaxConns))
	if err != nil {
		return nil, nil, err
	}

	st := &stores{
		models: pgstore.NewModelStore(pool),
		events: pgstore.NewEventStore(pool),
	}
	if cfg.ClickhouseDSN == "" {
		return st, pool.Close, nil
	}

	// ClickHouse (price history)
	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	st.history = chstore.NewPriceTickStore(conn)

	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return st, cleanup, nil
}

// createCustody creates the configured custody provider.
func createCustody(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (custody.Provider, func(), error) {
	switch cfg.Custody.Provider {
	case config.CustodySecretManager:
		p, err := custody.NewSecretManagerProvider(ctx, cfg.Custody.SecretManager, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		keys, err := cfg.StaticKeyMap()
		if err != nil {
			return nil, nil, err
		}
		return custody.NewStaticProvider(keys), func() {}, nil
	}
}
