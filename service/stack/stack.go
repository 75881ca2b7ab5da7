// Package stack assembles a Market and its collaborators from configuration.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/brojonat/mintmarket/service/config"
	"github.com/brojonat/mintmarket/service/journal"
	"github.com/brojonat/mintmarket/service/ledger"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/metadata"
	"github.com/brojonat/mintmarket/service/metrics"
	natspkg "github.com/brojonat/mintmarket/service/nats"
	"github.com/brojonat/mintmarket/service/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// Options tunes Build.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// JournalURL overrides cfg.JournalURL when set.
	JournalURL string

	// SkipPublisher leaves events unpublished even when NATS_URL is set.
	SkipPublisher bool
}

// Stack is a wired Market plus the resources it owns.
type Stack struct {
	Market    *market.Market
	Ledger    *ledger.Client
	Wallet    *wallet.Wallet
	Journal   journal.Store
	Publisher natspkg.Publisher

	logger  *slog.Logger
	closers []func() error
}

// Build dials the ledger, loads the wallet and opens the journal and
// publisher named by cfg. A missing wallet is not an error: the Market
// serves reads and rejects Connect with market.ErrNoWallet.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stack{logger: logger}

	w, err := wallet.Load(wallet.Source{
		PrivateKey:   cfg.WalletPrivateKey,
		KeystorePath: cfg.WalletKeystore,
		Passphrase:   cfg.WalletPassphrase,
		Mnemonic:     cfg.WalletMnemonic,
	})
	switch {
	case errors.Is(err, market.ErrNoWallet):
		logger.Warn("no wallet configured, writes are disabled")
	case err != nil:
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	default:
		s.Wallet = w
		logger.Info("wallet loaded", "account", w.Account())
	}

	ledgerOpts := ledger.Options{
		RegistryAddress:     common.HexToAddress(cfg.TokenRegistryAddress),
		MarketplaceAddress:  common.HexToAddress(cfg.MarketplaceAddress),
		GasLimit:            cfg.GasLimit,
		ReceiptPollInterval: cfg.ReceiptPollInterval,
		ReadsPerSecond:      cfg.LedgerReadsPerSecond,
		Metrics:             opts.Metrics,
		Logger:              logger,
	}
	if cfg.ChainID > 0 {
		ledgerOpts.ChainID = big.NewInt(cfg.ChainID)
	}
	if s.Wallet != nil {
		ledgerOpts.Signer = s.Wallet
	}
	lc, err := ledger.Dial(ctx, cfg.EthRPCURL, ledgerOpts)
	if err != nil {
		return nil, err
	}
	s.Ledger = lc
	s.closers = append(s.closers, func() error { lc.Close(); return nil })

	resolver, err := metadata.NewResolver(metadata.Options{
		Gateway:   cfg.MetadataGateway,
		Timeout:   cfg.MetadataTimeout,
		CacheSize: cfg.MetadataCacheSize,
		Metrics:   opts.Metrics,
		Logger:    logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	journalURL := cfg.JournalURL
	if opts.JournalURL != "" {
		journalURL = opts.JournalURL
	}
	store, err := journal.Open(ctx, journalURL, opts.Metrics, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	s.Journal = store
	s.closers = append(s.closers, store.Close)

	mcfg := market.Config{
		Registry:       lc,
		Marketplace:    lc,
		Resolver:       resolver,
		Journal:        store,
		Metrics:        opts.Metrics,
		Logger:         logger,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}
	if s.Wallet != nil {
		mcfg.Accounts = s.Wallet
	}

	if cfg.NATSURL != "" && !opts.SkipPublisher {
		pub, err := natspkg.NewPublisher(cfg.NATSURL, opts.Metrics, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Publisher = pub
		s.closers = append(s.closers, pub.Close)
		mcfg.Notifier = natspkg.NewNotifier(pub, logger)
	}

	m, err := market.New(mcfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Market = m
	return s, nil
}

// Close releases everything Build opened, newest first.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if len(errs) > 0 {
		s.logger.Error("failed to close stack", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
