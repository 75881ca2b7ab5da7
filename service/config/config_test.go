package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRegistry    = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testMarketplace = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ETH_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("TOKEN_REGISTRY_ADDRESS", testRegistry)
	t.Setenv("MARKETPLACE_ADDRESS", testMarketplace)
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "http://127.0.0.1:8545", cfg.EthRPCURL)
	assert.Equal(t, testRegistry, cfg.TokenRegistryAddress)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, 2*time.Second, cfg.ReceiptPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, "https://ipfs.io/ipfs/", cfg.MetadataGateway)
	assert.Equal(t, 512, cfg.MetadataCacheSize)
	assert.Equal(t, time.Minute, cfg.ResyncInterval)
	assert.Zero(t, cfg.ChainID)
	assert.Empty(t, cfg.JournalURL)
	assert.False(t, cfg.HasWallet())
}

func TestLoad_MissingRPCURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ETH_RPC_URL", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "ETH_RPC_URL is required")
}

func TestLoad_InvalidAddresses(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_REGISTRY_ADDRESS", "not-an-address")
	t.Setenv("MARKETPLACE_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_REGISTRY_ADDRESS")
	assert.Contains(t, err.Error(), "MARKETPLACE_ADDRESS")
}

func TestLoad_SameContractTwice(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARKETPLACE_ADDRESS", testRegistry)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIRM_TIMEOUT", "invalid")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "CONFIRM_TIMEOUT")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("GAS_LIMIT", "300000")
	t.Setenv("LEDGER_READS_PER_SECOND", "2.5")
	t.Setenv("RESYNC_INTERVAL", "30s")
	t.Setenv("WALLET_MNEMONIC", "test test test test test test test test test test test junk")
	t.Setenv("JOURNAL_URL", "sqlite:///tmp/journal.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(31337), cfg.ChainID)
	assert.Equal(t, uint64(300000), cfg.GasLimit)
	assert.InDelta(t, 2.5, cfg.LedgerReadsPerSecond, 0.0001)
	assert.Equal(t, 30*time.Second, cfg.ResyncInterval)
	assert.Equal(t, "sqlite:///tmp/journal.db", cfg.JournalURL)
	assert.True(t, cfg.HasWallet())
}

func TestLoad_KeystoreNeedsPassphrase(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALLET_KEYSTORE", "/keys/dev.json")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_PASSPHRASE is required")
}

func TestLoadFile_EnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mintmarket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ETH_RPC_URL: http://file-node:8545
TOKEN_REGISTRY_ADDRESS: `+testRegistry+`
MARKETPLACE_ADDRESS: `+testMarketplace+`
chain_id: 5
METADATA_TIMEOUT: 3s
METADATA_CACHE_SIZE: 64
`), 0o600))

	t.Setenv("ETH_RPC_URL", "http://env-node:8545")
	t.Setenv("TOKEN_REGISTRY_ADDRESS", testRegistry)
	t.Setenv("MARKETPLACE_ADDRESS", testMarketplace)
	t.Setenv("METADATA_CACHE_SIZE", "128")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env-node:8545", cfg.EthRPCURL)
	assert.Equal(t, int64(5), cfg.ChainID)
	assert.Equal(t, 3*time.Second, cfg.MetadataTimeout)
	assert.Equal(t, 128, cfg.MetadataCacheSize)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ETH_RPC_URL: [unterminated"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LogLevel:             "info",
			EthRPCURL:            "http://127.0.0.1:8545",
			TokenRegistryAddress: testRegistry,
			MarketplaceAddress:   testMarketplace,
			ReceiptPollInterval:  2 * time.Second,
			ConfirmTimeout:       time.Minute,
			MetadataTimeout:      10 * time.Second,
			MetadataCacheSize:    16,
			ResyncInterval:       time.Minute,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"negative chain id", func(c *Config) { c.ChainID = -1 }, "CHAIN_ID"},
		{"negative read rate", func(c *Config) { c.LedgerReadsPerSecond = -1 }, "LEDGER_READS_PER_SECOND"},
		{"zero poll interval", func(c *Config) { c.ReceiptPollInterval = 0 }, "RECEIPT_POLL_INTERVAL"},
		{"confirm shorter than poll", func(c *Config) { c.ConfirmTimeout = time.Second }, "CONFIRM_TIMEOUT"},
		{"zero metadata timeout", func(c *Config) { c.MetadataTimeout = 0 }, "METADATA_TIMEOUT"},
		{"zero cache", func(c *Config) { c.MetadataCacheSize = 0 }, "METADATA_CACHE_SIZE"},
		{"resync too frequent", func(c *Config) { c.ResyncInterval = time.Second }, "RESYNC_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
