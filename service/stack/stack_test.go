package stack

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/brojonat/mintmarket/service/config"
	"github.com/brojonat/mintmarket/service/journal"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		EthRPCURL:            "http://127.0.0.1:8545",
		TokenRegistryAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		MarketplaceAddress:   "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		ChainID:              31337,
		ReceiptPollInterval:  time.Second,
		ConfirmTimeout:       time.Minute,
		MetadataGateway:      "https://ipfs.io/ipfs/",
		MetadataTimeout:      time.Second,
		MetadataCacheSize:    16,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_WithWallet(t *testing.T) {
	cfg := testConfig()
	cfg.WalletPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	st, err := Build(context.Background(), cfg, Options{Logger: testLogger()})
	require.NoError(t, err)
	defer st.Close()

	require.NotNil(t, st.Wallet)
	assert.Equal(t, market.Account("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), st.Wallet.Account())
	assert.NotNil(t, st.Market)
	assert.NotNil(t, st.Journal)
	assert.Nil(t, st.Publisher)
	assert.False(t, st.Market.Snapshot().Connected())
}

func TestBuild_WithoutWallet(t *testing.T) {
	st, err := Build(context.Background(), testConfig(), Options{Logger: testLogger()})
	require.NoError(t, err)
	defer st.Close()

	assert.Nil(t, st.Wallet)
	_, err = st.Market.Connect(context.Background())
	assert.ErrorIs(t, err, market.ErrNoWallet)
}

func TestBuild_InvalidWallet(t *testing.T) {
	cfg := testConfig()
	cfg.WalletPrivateKey = "0xnothex"

	_, err := Build(context.Background(), cfg, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load wallet")
}

func TestBuild_JournalOverride(t *testing.T) {
	cfg := testConfig()
	cfg.JournalURL = "mysql://nope"
	path := filepath.Join(t.TempDir(), "journal.db")

	st, err := Build(context.Background(), cfg, Options{
		Logger:     testLogger(),
		JournalURL: "sqlite://" + path,
	})
	require.NoError(t, err)

	ops, err := st.Journal.List(context.Background(), journal.ListParams{})
	require.NoError(t, err)
	assert.Empty(t, ops)
	require.NoError(t, st.Close())

	// Close is idempotent.
	assert.NoError(t, st.Close())
}

func TestBuild_UnsupportedJournal(t *testing.T) {
	cfg := testConfig()
	cfg.JournalURL = "mysql://nope"

	_, err := Build(context.Background(), cfg, Options{Logger: testLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open journal")
}
