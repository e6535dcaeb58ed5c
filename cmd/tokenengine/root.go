package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"model-token-engine/internal/config"
)

// cli carries state shared by all subcommands.
type cli struct {
	v          *viper.Viper
	configFile string
	cfg        config.Config
	logger     *logrus.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	config.SetDefaults(c.v)
	config.BindEnv(c.v)

	root := &cobra.Command{
		Use:           "tokenengine",
		Short:         "Mint, burn and price AI model tokens on Aptos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Config file (yaml, json or toml)")
	flags.String("log-level", "info", "Logging verbosity: panic, fatal, error, warn, info, debug, trace")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("network", "mainnet", "Aptos network: mainnet, testnet, devnet or local")
	flags.String("node-url", "", "Aptos REST endpoint, defaults to the network's public node")
	flags.String("indexer-url", "", "Aptos indexer GraphQL endpoint, defaults to the network's public indexer")
	flags.String("contract-address", "", "Launchpad module address")
	flags.String("storage", config.BackendMemory, "Storage backend: memory or postgres")
	flags.String("postgres-dsn", "", "PostgreSQL connection string")
	flags.String("clickhouse-dsn", "", "ClickHouse connection string for price history (optional)")
	flags.String("custody", config.CustodyStatic, "Custody provider: static or secretmanager")
	flags.StringSlice("static-key", nil, "Static custodial key as ref=private-key-hex (repeatable)")

	bind := map[string]string{
		"log.level":              "log-level",
		"log.format":             "log-format",
		"aptos.network":          "network",
		"aptos.node_url":         "node-url",
		"aptos.indexer_url":      "indexer-url",
		"aptos.contract_address": "contract-address",
		"storage.backend":        "storage",
		"storage.postgres_dsn":   "postgres-dsn",
		"storage.clickhouse_dsn": "clickhouse-dsn",
		"custody.provider":       "custody",
		"custody.static_keys":    "static-key",
	}
	for key, flag := range bind {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newServeCmd(c),
		newMintCmd(c),
		newBurnCmd(c),
		newCreateTokenCmd(c),
		newInitWalletCmd(c),
		newMigrateCmd(c),
	)
	return root
}

// load reads configuration and initializes the logger.
func (c *cli) load() error {
	if c.logger != nil {
		return nil
	}
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}
