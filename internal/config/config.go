// Package config loads engine configuration from flags, environment and an
// optional config file through viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"model-token-engine/internal/aptos"
	"model-token-engine/internal/custody"
)

// EnvPrefix prefixes every environment variable, e.g. TOKENENGINE_HTTP_ADDR.
const EnvPrefix = "TOKENENGINE"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Custody providers.
const (
	CustodyStatic        = "static"
	CustodySecretManager = "secretmanager"
)

// Config is the full engine configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Custody CustodyConfig `mapstructure:"custody"`
	Aptos   aptos.Config  `mapstructure:"aptos"`

	MaxPriceRetries int `mapstructure:"max_price_retries"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	AppSecret       string        `mapstructure:"app_secret"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects and configures the record stores.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"` // optional price history
	MaxConns      int32  `mapstructure:"max_conns"`
}

// CustodyConfig selects the custodial key provider.
type CustodyConfig struct {
	Provider      string                      `mapstructure:"provider"`
	StaticKeys    []string                    `mapstructure:"static_keys"` // ref=private-key-hex
	SecretManager custody.SecretManagerConfig `mapstructure:"secretmanager"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.app_secret", "")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 3*time.Minute)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.max_conns", 0)

	v.SetDefault("custody.provider", CustodyStatic)
	v.SetDefault("custody.static_keys", []string{})
	v.SetDefault("custody.secretmanager.project_id", "")
	v.SetDefault("custody.secretmanager.secret_prefix", custody.DefaultSecretPrefix)
	v.SetDefault("custody.secretmanager.credentials_file", "")
	v.SetDefault("custody.secretmanager.cache_size", custody.DefaultCacheSize)

	d := aptos.DefaultConfig(aptos.NetworkMainnet)
	v.SetDefault("aptos.network", string(d.Network))
	v.SetDefault("aptos.node_url", "")
	v.SetDefault("aptos.indexer_url", "")
	v.SetDefault("aptos.contract_address", d.ContractAddress)
	v.SetDefault("aptos.max_gas_amount", d.MaxGasAmount)
	v.SetDefault("aptos.gas_unit_price", d.GasUnitPrice)
	v.SetDefault("aptos.expiration_window", d.ExpirationWindow)
	v.SetDefault("aptos.submit_timeout", d.SubmitTimeout)
	v.SetDefault("aptos.supply_timeout", d.SupplyTimeout)
	v.SetDefault("aptos.poll_interval", d.PollInterval)
	v.SetDefault("aptos.supply_retries", d.SupplyRetries)

	v.SetDefault("max_price_retries", 3)
}

// BindEnv wires TOKENENGINE_* environment variables to config keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file and unmarshals v into a validated Config.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Aptos.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Custody.Provider {
	case CustodyStatic:
		if _, err := c.StaticKeyMap(); err != nil {
			return err
		}
	case CustodySecretManager:
		if c.Custody.SecretManager.ProjectID == "" {
			return fmt.Errorf("config: custody.secretmanager.project_id is required")
		}
	default:
		return fmt.Errorf("config: unknown custody.provider %q", c.Custody.Provider)
	}

	if c.MaxPriceRetries < 0 {
		return fmt.Errorf("config: max_price_retries must not be negative")
	}
	return c.Aptos.Validate()
}

// StaticKeyMap parses custody.static_keys entries of the form ref=key.
func (c *Config) StaticKeyMap() (map[string]string, error) {
	keys := make(map[string]string, len(c.Custody.StaticKeys))
	for _, entry := range c.Custody.StaticKeys {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ref, key, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(ref) == "" || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("config: custody.static_keys entry must be ref=key")
		}
		keys[strings.TrimSpace(ref)] = strings.TrimSpace(key)
	}
	return keys, nil
}
