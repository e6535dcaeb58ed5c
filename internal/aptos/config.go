package aptos

import (
	"fmt"
	"strings"
	"time"
)

// Network selects default endpoints.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkDevnet  Network = "devnet"
	NetworkLocal   Network = "local"
)

// Launchpad contract entry points.
const (
	DefaultContractAddress = "0x67c8564aee3799e9ac669553fdef3a3828d4626f24786b6a5642152fa09469dd"
	LaunchpadModule        = "launchpad"

	FunctionMintToAddress  = "mint_to_address"
	FunctionBurnFA         = "burn_fa"
	FunctionCreateFASimple = "create_fa_simple"
)

// Gas and timing defaults.
const (
	DefaultMaxGasAmount     = 90000
	DefaultGasUnitPrice     = 100
	DefaultExpirationWindow = 10 * time.Minute
	DefaultSubmitTimeout    = 2 * time.Minute
	DefaultSupplyTimeout    = 30 * time.Second
	DefaultPollInterval     = 1 * time.Second
	DefaultSupplyRetries    = 3
)

// Config is the ledger configuration handed to the gateway at construction.
type Config struct {
	Network          Network       `mapstructure:"network"`
	NodeURL          string        `mapstructure:"node_url"`
	IndexerURL       string        `mapstructure:"indexer_url"`
	ContractAddress  string        `mapstructure:"contract_address"`
	MaxGasAmount     uint64        `mapstructure:"max_gas_amount"`
	GasUnitPrice     uint64        `mapstructure:"gas_unit_price"`
	ExpirationWindow time.Duration `mapstructure:"expiration_window"`
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout"`
	SupplyTimeout    time.Duration `mapstructure:"supply_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SupplyRetries    int           `mapstructure:"supply_retries"`
}

// DefaultConfig returns the configuration for a network with all defaults filled in.
func DefaultConfig(network Network) Config {
	cfg := Config{Network: network}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Network == "" {
		c.Network = NetworkMainnet
	}
	node, indexer := endpoints(c.Network)
	if c.NodeURL == "" {
		c.NodeURL = node
	}
	if c.IndexerURL == "" {
		c.IndexerURL = indexer
	}
	if c.ContractAddress == "" {
		c.ContractAddress = DefaultContractAddress
	}
	if c.MaxGasAmount == 0 {
		c.MaxGasAmount = DefaultMaxGasAmount
	}
	if c.GasUnitPrice == 0 {
		c.GasUnitPrice = DefaultGasUnitPrice
	}
	if c.ExpirationWindow <= 0 {
		c.ExpirationWindow = DefaultExpirationWindow
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.SupplyTimeout <= 0 {
		c.SupplyTimeout = DefaultSupplyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SupplyRetries <= 0 {
		c.SupplyRetries = DefaultSupplyRetries
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if c.NodeURL == "" {
		return fmt.Errorf("ledger node url is required for network %q", c.Network)
	}
	if c.IndexerURL == "" {
		return fmt.Errorf("ledger indexer url is required for network %q", c.Network)
	}
	if _, err := NormalizeAddress(c.ContractAddress); err != nil {
		return fmt.Errorf("contract address: %w", err)
	}
	return nil
}

// EntryFunction returns the fully qualified launchpad function id.
func (c *Config) EntryFunction(name string) string {
	return fmt.Sprintf("%s::%s::%s", strings.ToLower(c.ContractAddress), LaunchpadModule, name)
}

func endpoints(n Network) (node, indexer string) {
	switch n {
	case NetworkMainnet:
		return "https://api.mainnet.aptoslabs.com/v1", "https://api.mainnet.aptoslabs.com/v1/graphql"
	case NetworkTestnet:
		return "https://api.testnet.aptoslabs.com/v1", "https://api.testnet.aptoslabs.com/v1/graphql"
	case NetworkDevnet:
		return "https://api.devnet.aptoslabs.com/v1", "https://api.devnet.aptoslabs.com/v1/graphql"
	case NetworkLocal:
		return "http://127.0.0.1:8080/v1", "http://127.0.0.1:8090/v1/graphql"
	}
	return "", ""
}
