package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"model-token-engine/internal/api"
	"model-token-engine/internal/config"
	"model-token-engine/internal/storage/migrations"
	pgstore "model-token-engine/internal/storage/postgres"
)

func newServeCmd(c *cli) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(migrate)
		},
	}

	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().String("app-secret", "", "Shared secret required in X-App-Secret on mutating routes")
	cmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origin (repeatable)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply database migrations before serving")
	_ = c.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	_ = c.v.BindPFlag("http.app_secret", cmd.Flags().Lookup("app-secret"))
	_ = c.v.BindPFlag("http.cors_origins", cmd.Flags().Lookup("cors-origin"))

	return cmd
}

func (c *cli) serve(migrate bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.cfg.HTTP.AppSecret == "" {
		c.logger.Warn("http.app_secret is empty, mutating routes will reject every request")
	}
	if migrate {
		if err := c.migrate(ctx); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.cleanup()

	server := api.NewServer(api.Options{
		Engine:      a.engine,
		Models:      a.stores.models,
		Events:      a.stores.events,
		History:     a.stores.history,
		Journal:     a.journal,
		Logger:      c.logger,
		AppSecret:   c.cfg.HTTP.AppSecret,
		CORSOrigins: c.cfg.HTTP.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:         c.cfg.HTTP.Addr,
		Handler:      server.Router(),
		ReadTimeout:  c.cfg.HTTP.ReadTimeout,
		WriteTimeout: c.cfg.HTTP.WriteTimeout,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		c.logger.WithField("addr", httpServer.Addr).Info("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		c.logger.WithField("signal", sig.String()).Info("received signal, initiating graceful shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// A second signal forces exit.
	go func() {
		select {
		case sig := <-sigCh:
			c.logger.WithField("signal", sig.String()).Warn("received second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-shutdownCtx.Done():
		}
	}()

	// In-flight mints and burns finish before the stores close.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	c.logger.Info("shutdown complete")
	return nil
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL and ClickHouse migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.migrate(cmd.Context())
		},
	}
}

func (c *cli) migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.cfg.Storage.Backend != config.BackendPostgres {
		c.logger.Info("memory backend, nothing to migrate")
		return nil
	}

	pool, err := pgstore.NewPool(ctx, c.cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		return err
	}
	c.logger.WithField("applied", applied).Info("postgres migrations complete")

	if c.cfg.Storage.ClickhouseDSN != "" {
		conn, applied, err := migrations.RunClickhouseMigrations(ctx, c.cfg.Storage.ClickhouseDSN)
		if err != nil {
			return err
		}
		conn.Close()
		c.logger.WithField("applied", applied).Info("clickhouse migrations complete")
	}
	return nil
}
