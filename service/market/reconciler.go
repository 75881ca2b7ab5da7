package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/mintmarket/service/metrics"
	"golang.org/x/sync/errgroup"
)

// Reconciler re-derives the for-sale catalog and the connected account's
// tokens by enumerating the registry. Passes cost O(totalSupply) reads.
type Reconciler struct {
	registry TokenRegistry
	market   Marketplace
	resolver MetadataResolver
	session  *Session
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler wires a reconciler to the gateway and the session it publishes to.
// resolver, notifier and m may be nil.
func NewReconciler(registry TokenRegistry, market Marketplace, resolver MetadataResolver, session *Session, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		registry: registry,
		market:   market,
		resolver: resolver,
		session:  session,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "reconciler"),
		now:      time.Now,
	}
}

// RebuildForSaleCatalog enumerates every token and returns the listed ones
// with their prices, in index order. Any read error aborts the pass.
func (r *Reconciler) RebuildForSaleCatalog(ctx context.Context) ([]ForSaleEntry, error) {
	supply, err := r.registry.TotalSupply(ctx)
	if err != nil {
		return nil, &ReadError{View: ViewForSaleCatalog, Step: "totalSupply", Err: err}
	}

	entries := make([]ForSaleEntry, 0)
	for i := uint64(0); i < supply; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &ReadError{View: ViewForSaleCatalog, Step: "enumerate", Err: err}
		}
		index := i
		id, err := r.registry.TokenByIndex(ctx, index)
		if err != nil {
			return nil, &ReadError{View: ViewForSaleCatalog, Step: "tokenByIndex", Index: &index, Err: err}
		}
		listed, err := r.market.IsForSale(ctx, id)
		if err != nil {
			return nil, &ReadError{View: ViewForSaleCatalog, Step: "isForSale", Token: &id, Err: err}
		}
		if !listed {
			continue
		}
		price, err := r.market.GetPrice(ctx, id)
		if err != nil {
			return nil, &ReadError{View: ViewForSaleCatalog, Step: "getPrice", Token: &id, Err: err}
		}
		entries = append(entries, ForSaleEntry{TokenID: id, Price: price})
	}
	return entries, nil
}

// RebuildMyTokens enumerates every token and returns those owned by account,
// in index order, with metadata resolved. A metadata fetch failure keeps the
// token with absent metadata; any ledger read error aborts the pass.
func (r *Reconciler) RebuildMyTokens(ctx context.Context, account Account) ([]OwnedToken, error) {
	supply, err := r.registry.TotalSupply(ctx)
	if err != nil {
		return nil, &ReadError{View: ViewMyTokens, Step: "totalSupply", Err: err}
	}

	tokens := make([]OwnedToken, 0)
	for i := uint64(0); i < supply; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &ReadError{View: ViewMyTokens, Step: "enumerate", Err: err}
		}
		index := i
		id, err := r.registry.TokenByIndex(ctx, index)
		if err != nil {
			return nil, &ReadError{View: ViewMyTokens, Step: "tokenByIndex", Index: &index, Err: err}
		}
		owner, err := r.registry.OwnerOf(ctx, id)
		if err != nil {
			return nil, &ReadError{View: ViewMyTokens, Step: "ownerOf", Token: &id, Err: err}
		}
		if !owner.Equal(account) {
			continue
		}
		uri, err := r.registry.TokenURI(ctx, id)
		if err != nil {
			return nil, &ReadError{View: ViewMyTokens, Step: "tokenURI", Token: &id, Err: err}
		}
		tokens = append(tokens, r.resolve(ctx, id, uri))
	}
	return tokens, nil
}

func (r *Reconciler) resolve(ctx context.Context, id TokenID, uri string) OwnedToken {
	token := OwnedToken{TokenID: id, URI: uri}
	if r.resolver == nil {
		return token
	}
	md, err := r.resolver.Fetch(ctx, uri)
	if err != nil {
		r.logger.WarnContext(ctx, "metadata unavailable, keeping token without it",
			"token_id", id,
			"uri", uri,
			"error", err,
		)
		token.MetadataError = err.Error()
		return token
	}
	token.Metadata = md
	return token
}

// Refresh runs the rebuild passes for the given views concurrently and
// publishes each successful result to the session. A failed pass leaves its
// previously published view untouched. Errors from all failed passes are
// joined. MyTokens is skipped while no account is connected.
func (r *Reconciler) Refresh(ctx context.Context, views ...View) error {
	if len(views) == 0 {
		views = AllViews
	}

	epoch := r.session.currentEpoch()
	account := r.session.Account()

	errs := make([]error, len(views))
	var g errgroup.Group
	for i, view := range views {
		g.Go(func() error {
			errs[i] = r.refreshView(ctx, epoch, account, view)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Reconciler) refreshView(ctx context.Context, epoch uint64, account Account, view View) error {
	start := time.Now()
	var (
		update    ViewUpdate
		published bool
		err       error
	)

	switch view {
	case ViewForSaleCatalog:
		var entries []ForSaleEntry
		entries, err = r.RebuildForSaleCatalog(ctx)
		if err == nil {
			at := r.now().UTC()
			published = r.session.publishCatalog(epoch, entries, at)
			update = ViewUpdate{View: view, Catalog: entries, UpdatedAt: at}
		}
	case ViewMyTokens:
		if account.IsZero() {
			r.logger.DebugContext(ctx, "no account connected, skipping rebuild", "view", view)
			return nil
		}
		var tokens []OwnedToken
		tokens, err = r.RebuildMyTokens(ctx, account)
		if err == nil {
			at := r.now().UTC()
			published = r.session.publishTokens(epoch, account, tokens, at)
			update = ViewUpdate{View: view, Account: account, Tokens: tokens, UpdatedAt: at}
		}
	default:
		return &ReadError{View: view, Step: "refresh", Err: errors.New("unknown view")}
	}

	duration := time.Since(start).Seconds()
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "rebuild pass failed, keeping previous view",
			"view", view,
			"duration", duration,
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.RecordRebuildPass(string(view), "error", duration)
		}
		return err
	case !published:
		r.logger.InfoContext(ctx, "rebuild pass superseded by a newer write, discarding",
			"view", view,
			"duration", duration,
		)
		if r.metrics != nil {
			r.metrics.RecordRebuildPass(string(view), "superseded", duration)
		}
		return nil
	}

	r.logger.DebugContext(ctx, "view published",
		"view", view,
		"size", update.Size(),
		"duration", duration,
	)
	if r.metrics != nil {
		r.metrics.RecordRebuildPass(string(view), "published", duration)
		r.metrics.RecordViewSize(string(view), update.Size())
	}
	if r.notifier != nil {
		r.notifier.ViewPublished(ctx, update)
	}
	return nil
}
