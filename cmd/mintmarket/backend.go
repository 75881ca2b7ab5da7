package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/brojonat/mintmarket/client"
	"github.com/brojonat/mintmarket/service/config"
	"github.com/brojonat/mintmarket/service/journal"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/stack"
	"github.com/urfave/cli/v2"
)

// backend runs market commands either in-process or against a server.
type backend interface {
	Catalog(ctx context.Context) (*client.Catalog, error)
	Tokens(ctx context.Context) (*client.Tokens, error)
	Refresh(ctx context.Context, views ...market.View) (*market.Snapshot, error)
	Mint(ctx context.Context, cid string) (*client.OperationResponse, error)
	List(ctx context.Context, id market.TokenID, price market.Price) (*client.OperationResponse, error)
	Delist(ctx context.Context, id market.TokenID) (*client.OperationResponse, error)
	Buy(ctx context.Context, id market.TokenID, payment *market.Price) (*client.OperationResponse, error)
	Operations(ctx context.Context, filter client.OperationFilter) ([]market.OperationRecord, error)
	Close() error
}

var (
	_ backend = (*remoteBackend)(nil)
	_ backend = (*localBackend)(nil)
)

// openBackend returns a remote backend when --server-url is set and a local
// one otherwise.
func openBackend(c *cli.Context) (backend, error) {
	logger := setupLogger(c.String("log-level"))
	if serverURL := c.String("server-url"); serverURL != "" {
		return &remoteBackend{Client: client.NewClient(serverURL, nil, logger)}, nil
	}

	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, err
	}

	journalURL := c.String("journal")
	if journalURL == "" && cfg.JournalURL == "" {
		journalURL, err = defaultJournalURL()
		if err != nil {
			return nil, err
		}
	}

	st, err := stack.Build(c.Context, cfg, stack.Options{
		Logger:     logger,
		JournalURL: journalURL,
	})
	if err != nil {
		return nil, err
	}
	return &localBackend{stack: st, logger: logger}, nil
}

// defaultJournalURL keeps the local operation history under the user's home.
func defaultJournalURL() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	dir := filepath.Join(home, ".mintmarket")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return "sqlite://" + filepath.Join(dir, "journal.db"), nil
}

type remoteBackend struct {
	*client.Client
}

func (b *remoteBackend) Close() error { return nil }

// localBackend drives an in-process Market for a single command.
type localBackend struct {
	stack     *stack.Stack
	logger    *slog.Logger
	connected bool
}

// connect binds the wallet's account and loads both views.
func (b *localBackend) connect(ctx context.Context) error {
	if b.connected {
		return nil
	}
	account, err := b.stack.Market.Connect(ctx)
	if account.IsZero() {
		return err
	}
	if err != nil {
		b.logger.Warn("initial view load failed", "account", account, "error", err)
	}
	b.connected = true
	return nil
}

func (b *localBackend) Catalog(ctx context.Context) (*client.Catalog, error) {
	if err := b.stack.Market.Refresh(ctx, market.ViewForSaleCatalog); err != nil {
		return nil, err
	}
	snap := b.stack.Market.Snapshot()
	return &client.Catalog{Entries: snap.ForSaleCatalog, UpdatedAt: snap.CatalogUpdatedAt}, nil
}

func (b *localBackend) Tokens(ctx context.Context) (*client.Tokens, error) {
	if err := b.connect(ctx); err != nil {
		return nil, err
	}
	snap := b.stack.Market.Snapshot()
	if snap.TokensUpdatedAt == nil {
		if err := b.stack.Market.Refresh(ctx, market.ViewMyTokens); err != nil {
			return nil, err
		}
		snap = b.stack.Market.Snapshot()
	}
	return &client.Tokens{Account: snap.Account, Tokens: snap.MyTokens, UpdatedAt: snap.TokensUpdatedAt}, nil
}

func (b *localBackend) Refresh(ctx context.Context, views ...market.View) (*market.Snapshot, error) {
	if err := b.connect(ctx); err != nil && !errors.Is(err, market.ErrNoWallet) {
		return nil, err
	}
	if err := b.stack.Market.Refresh(ctx, views...); err != nil {
		return nil, err
	}
	snap := b.stack.Market.Snapshot()
	return &snap, nil
}

func (b *localBackend) Mint(ctx context.Context, cid string) (*client.OperationResponse, error) {
	return b.run(ctx, func() (*market.Result, error) { return b.stack.Market.Mint(ctx, cid) })
}

func (b *localBackend) List(ctx context.Context, id market.TokenID, price market.Price) (*client.OperationResponse, error) {
	return b.run(ctx, func() (*market.Result, error) { return b.stack.Market.List(ctx, id, price) })
}

func (b *localBackend) Delist(ctx context.Context, id market.TokenID) (*client.OperationResponse, error) {
	return b.run(ctx, func() (*market.Result, error) { return b.stack.Market.Delist(ctx, id) })
}

func (b *localBackend) Buy(ctx context.Context, id market.TokenID, payment *market.Price) (*client.OperationResponse, error) {
	return b.run(ctx, func() (*market.Result, error) {
		if payment == nil {
			return b.stack.Market.BuyListed(ctx, id)
		}
		return b.stack.Market.Buy(ctx, id, *payment)
	})
}

func (b *localBackend) run(ctx context.Context, op func() (*market.Result, error)) (*client.OperationResponse, error) {
	if err := b.connect(ctx); err != nil {
		return nil, err
	}
	result, err := op()
	if err != nil {
		return nil, err
	}
	resp := &client.OperationResponse{Operation: result.Operation}
	if result.RefreshErr != nil {
		resp.RefreshError = result.RefreshErr.Error()
	}
	return resp, nil
}

func (b *localBackend) Operations(ctx context.Context, filter client.OperationFilter) ([]market.OperationRecord, error) {
	return b.stack.Journal.List(ctx, journal.ListParams{
		Account: filter.Account,
		Tag:     filter.Tag,
		Status:  filter.Status,
		Limit:   filter.Limit,
	})
}

func (b *localBackend) Close() error {
	return b.stack.Close()
}

// setupLogger creates a text logger on stderr; CLI output stays on stdout.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "none":
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	default:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
