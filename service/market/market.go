package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintmarket/service/metrics"
)

// Config wires a Market to its ledger gateway and optional collaborators.
type Config struct {
	Registry    TokenRegistry
	Marketplace Marketplace
	Accounts    AccountProvider
	Resolver    MetadataResolver
	Journal     Journal
	Notifier    Notifier
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// ConfirmTimeout bounds how long a write may stay unconfirmed.
	ConfirmTimeout time.Duration
	// JournalTimeout bounds each journal write.
	JournalTimeout time.Duration
}

// Market is the entry point used by the presentation layer: it validates
// user actions, runs them through the Coordinator and exposes the session.
type Market struct {
	session     *Session
	coordinator *Coordinator
	reconciler  *Reconciler
	registry    TokenRegistry
	marketplace Marketplace
	accounts    AccountProvider
	logger      *slog.Logger
}

// New builds a Market with a fresh, disconnected session.
func New(cfg Config) (*Market, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("token registry is required")
	}
	if cfg.Marketplace == nil {
		return nil, fmt.Errorf("marketplace is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	session := NewSession()
	reconciler := NewReconciler(cfg.Registry, cfg.Marketplace, cfg.Resolver, session, cfg.Notifier, cfg.Metrics, cfg.Logger)
	coordinator := NewCoordinator(session, reconciler, CoordinatorConfig{
		Journal:        cfg.Journal,
		Notifier:       cfg.Notifier,
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
		ConfirmTimeout: cfg.ConfirmTimeout,
		JournalTimeout: cfg.JournalTimeout,
	})

	return &Market{
		session:     session,
		coordinator: coordinator,
		reconciler:  reconciler,
		registry:    cfg.Registry,
		marketplace: cfg.Marketplace,
		accounts:    cfg.Accounts,
		logger:      cfg.Logger,
	}, nil
}

// Snapshot returns the current session state.
func (m *Market) Snapshot() Snapshot {
	return m.session.Snapshot()
}

// Connect asks the account provider for the signing account, records it and
// loads both views. The account is returned even when the initial load fails.
// Connect is refused with ErrBusy while an operation is pending.
func (m *Market) Connect(ctx context.Context) (Account, error) {
	if m.accounts == nil {
		return "", ErrNoWallet
	}
	if tag, busy := m.session.Pending(); busy {
		m.logger.DebugContext(ctx, "connect refused, operation pending", "pending", tag)
		return "", ErrBusy
	}
	account, err := m.accounts.RequestAccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("request accounts: %w", err)
	}
	if account.IsZero() {
		return "", fmt.Errorf("%w: provider returned no account", ErrNoWallet)
	}
	if !m.session.setAccount(account) {
		return "", ErrBusy
	}
	m.logger.InfoContext(ctx, "account connected", "account", account)

	return account, m.Refresh(ctx, AllViews...)
}

// Refresh rebuilds the given views (both when none are given). It is refused
// with ErrBusy while an operation is pending.
func (m *Market) Refresh(ctx context.Context, views ...View) error {
	if tag, busy := m.session.Pending(); busy {
		m.logger.DebugContext(ctx, "refresh refused, operation pending", "pending", tag)
		return ErrBusy
	}
	return m.reconciler.Refresh(ctx, views...)
}

// Mint creates a token owned by the connected account whose metadata lives at cid.
func (m *Market) Mint(ctx context.Context, cid string) (*Result, error) {
	account := m.session.Account()
	if account.IsZero() {
		return nil, ErrNotConnected
	}
	if err := ValidateAccount(account); err != nil {
		return nil, err
	}
	if err := ValidateCID(cid); err != nil {
		return nil, err
	}
	return m.coordinator.Run(ctx, Operation{
		Tag: Minting,
		CID: cid,
		Submit: func(ctx context.Context) (PendingWrite, error) {
			return m.registry.Mint(ctx, account, cid)
		},
	})
}

// List offers token id for sale at price.
func (m *Market) List(ctx context.Context, id TokenID, price Price) (*Result, error) {
	if m.session.Account().IsZero() {
		return nil, ErrNotConnected
	}
	if _, err := NewPrice(price.Decimal()); err != nil {
		return nil, err
	}
	return m.coordinator.Run(ctx, Operation{
		Tag:     Listing,
		TokenID: &id,
		Price:   &price,
		Submit: func(ctx context.Context) (PendingWrite, error) {
			return m.marketplace.ListForSale(ctx, id, price)
		},
	})
}

// Delist withdraws token id from sale.
func (m *Market) Delist(ctx context.Context, id TokenID) (*Result, error) {
	if m.session.Account().IsZero() {
		return nil, ErrNotConnected
	}
	return m.coordinator.Run(ctx, Operation{
		Tag:     Delisting,
		TokenID: &id,
		Submit: func(ctx context.Context) (PendingWrite, error) {
			return m.marketplace.Delist(ctx, id)
		},
	})
}

// Buy purchases token id, paying payment.
func (m *Market) Buy(ctx context.Context, id TokenID, payment Price) (*Result, error) {
	if m.session.Account().IsZero() {
		return nil, ErrNotConnected
	}
	if _, err := NewPrice(payment.Decimal()); err != nil {
		return nil, err
	}
	return m.coordinator.Run(ctx, Operation{
		Tag:     Buying,
		TokenID: &id,
		Price:   &payment,
		Submit: func(ctx context.Context) (PendingWrite, error) {
			return m.marketplace.Buy(ctx, id, payment)
		},
	})
}

// BuyListed purchases token id at the price shown in the published catalog.
func (m *Market) BuyListed(ctx context.Context, id TokenID) (*Result, error) {
	entry, ok := m.session.Snapshot().CatalogEntry(id)
	if !ok {
		return nil, fmt.Errorf("%w: token %d is not in the for-sale catalog", ErrInvalidInput, id)
	}
	return m.Buy(ctx, id, entry.Price)
}
