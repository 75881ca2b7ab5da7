package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr  string `env:"SERVER_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// Ledger configuration
	EthRPCURL            string        `env:"ETH_RPC_URL"`
	ChainID              int64         `env:"CHAIN_ID"`
	TokenRegistryAddress string        `env:"TOKEN_REGISTRY_ADDRESS"`
	MarketplaceAddress   string        `env:"MARKETPLACE_ADDRESS"`
	GasLimit             uint64        `env:"GAS_LIMIT"`
	LedgerReadsPerSecond float64       `env:"LEDGER_READS_PER_SECOND" envDefault:"20"`
	ReceiptPollInterval  time.Duration `env:"RECEIPT_POLL_INTERVAL" envDefault:"2s"`
	ConfirmTimeout       time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"5m"`

	// Wallet configuration; the first non-empty source wins
	WalletPrivateKey string `env:"WALLET_PRIVATE_KEY"`
	WalletKeystore   string `env:"WALLET_KEYSTORE"`
	WalletPassphrase string `env:"WALLET_PASSPHRASE"`
	WalletMnemonic   string `env:"WALLET_MNEMONIC"`

	// Metadata configuration
	MetadataGateway   string        `env:"METADATA_GATEWAY" envDefault:"https://ipfs.io/ipfs/"`
	MetadataTimeout   time.Duration `env:"METADATA_TIMEOUT" envDefault:"10s"`
	MetadataCacheSize int           `env:"METADATA_CACHE_SIZE" envDefault:"512"`

	// Journal and event configuration; empty disables the feature
	JournalURL string `env:"JOURNAL_URL"`
	NATSURL    string `env:"NATS_URL"`

	// Temporal configuration
	TemporalHost      string        `env:"TEMPORAL_HOST" envDefault:"localhost:7233"`
	TemporalNamespace string        `env:"TEMPORAL_NAMESPACE" envDefault:"default"`
	TemporalTaskQueue string        `env:"TEMPORAL_TASK_QUEUE" envDefault:"mintmarket-resync"`
	ResyncInterval    time.Duration `env:"RESYNC_INTERVAL" envDefault:"1m"`
}

// MinResyncInterval is the shortest allowed background resync period.
const MinResyncInterval = 10 * time.Second

// Load reads configuration from the environment, overlaid on the YAML file
// named by CONFIG_FILE when set, and validates it.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is like Load with an explicit config file. The file maps the same
// keys as the environment (ETH_RPC_URL: ...). Environment variables win over
// the file; the file wins over defaults.
func LoadFile(path string) (*Config, error) {
	environment := map[string]string{}
	if path != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fileValues {
			environment[k] = v
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		environment[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("ETH_RPC_URL is required"))
	}

	if !common.IsHexAddress(c.TokenRegistryAddress) {
		errs = append(errs, fmt.Errorf("TOKEN_REGISTRY_ADDRESS %q is not a hex address", c.TokenRegistryAddress))
	}

	if !common.IsHexAddress(c.MarketplaceAddress) {
		errs = append(errs, fmt.Errorf("MARKETPLACE_ADDRESS %q is not a hex address", c.MarketplaceAddress))
	}

	if c.TokenRegistryAddress != "" && strings.EqualFold(c.TokenRegistryAddress, c.MarketplaceAddress) {
		errs = append(errs, fmt.Errorf("TOKEN_REGISTRY_ADDRESS and MARKETPLACE_ADDRESS must be different"))
	}

	if c.ChainID < 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID cannot be negative"))
	}

	if c.LedgerReadsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_READS_PER_SECOND cannot be negative"))
	}

	if c.ReceiptPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("RECEIPT_POLL_INTERVAL must be positive"))
	}

	if c.ConfirmTimeout < c.ReceiptPollInterval {
		errs = append(errs, fmt.Errorf("CONFIRM_TIMEOUT (%v) cannot be shorter than RECEIPT_POLL_INTERVAL (%v)",
			c.ConfirmTimeout, c.ReceiptPollInterval))
	}

	if c.MetadataTimeout <= 0 {
		errs = append(errs, fmt.Errorf("METADATA_TIMEOUT must be positive"))
	}

	if c.MetadataCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("METADATA_CACHE_SIZE must be positive"))
	}

	if c.WalletKeystore != "" && c.WalletPassphrase == "" {
		errs = append(errs, fmt.Errorf("WALLET_PASSPHRASE is required with WALLET_KEYSTORE"))
	}

	if c.ResyncInterval < MinResyncInterval {
		errs = append(errs, fmt.Errorf("RESYNC_INTERVAL must be at least %v", MinResyncInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// HasWallet reports whether any wallet source is configured.
func (c *Config) HasWallet() bool {
	return c.WalletPrivateKey != "" || c.WalletKeystore != "" || c.WalletMnemonic != ""
}
