package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/metrics"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types returned by the resync activities.
const (
	// ErrTypeBusy marks a refresh refused because a write is pending.
	ErrTypeBusy = "Busy"

	// ErrTypeAccountMismatch marks a schedule whose account is not the one
	// the worker's session is connected to.
	ErrTypeAccountMismatch = "AccountMismatch"
)

// ResyncViewsInput contains the input parameters for a scheduled resync.
type ResyncViewsInput struct {
	Account string `json:"account"`
}

// ResyncViewsResult contains the result of one resync run.
type ResyncViewsResult struct {
	Account   string              `json:"account"`
	StartedAt time.Time           `json:"started_at"`
	Views     []RefreshViewResult `json:"views"`
	Skipped   bool                `json:"skipped"`
	Error     *string             `json:"error,omitempty"`
}

// RefreshViewInput contains parameters for the refresh activities.
type RefreshViewInput struct {
	Account string `json:"account"`
}

// RefreshViewResult describes the view published by a refresh activity.
type RefreshViewResult struct {
	View      market.View `json:"view"`
	Size      int         `json:"size"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

// MarketRefresher is the part of market.Market the activities drive.
// This allows for easy mocking in tests.
type MarketRefresher interface {
	Refresh(ctx context.Context, views ...market.View) error
	Snapshot() market.Snapshot
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	market  MarketRefresher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(m MarketRefresher, metrics *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		market:  m,
		metrics: metrics,
		logger:  logger,
	}
}

// RefreshCatalog rebuilds the for-sale catalog.
func (a *Activities) RefreshCatalog(ctx context.Context, input RefreshViewInput) (*RefreshViewResult, error) {
	return a.refresh(ctx, "RefreshCatalog", market.ViewForSaleCatalog, input)
}

// RefreshTokens rebuilds the connected account's tokens. The schedule's
// account must match the session's.
func (a *Activities) RefreshTokens(ctx context.Context, input RefreshViewInput) (*RefreshViewResult, error) {
	if input.Account != "" {
		current := a.market.Snapshot().Account
		if !current.Equal(market.Account(input.Account)) {
			return nil, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("worker session is connected to %q, not %q", current, input.Account),
				ErrTypeAccountMismatch,
				nil,
			)
		}
	}
	return a.refresh(ctx, "RefreshTokens", market.ViewMyTokens, input)
}

func (a *Activities) refresh(ctx context.Context, activity string, view market.View, input RefreshViewInput) (result *RefreshViewResult, err error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds(), err)
		}
	}()

	a.logger.DebugContext(ctx, "refreshing view",
		"activity", activity,
		"view", view,
		"account", input.Account,
	)

	if err := a.market.Refresh(ctx, view); err != nil {
		if errors.Is(err, market.ErrBusy) {
			a.logger.InfoContext(ctx, "refresh skipped, operation pending", "view", view)
			return nil, temporalsdk.NewNonRetryableApplicationError("operation pending", ErrTypeBusy, err)
		}
		a.logger.ErrorContext(ctx, "failed to refresh view",
			"view", view,
			"error", err,
		)
		return nil, fmt.Errorf("failed to refresh %s: %w", view, err)
	}

	snap := a.market.Snapshot()
	result = &RefreshViewResult{View: view}
	switch view {
	case market.ViewForSaleCatalog:
		result.Size = len(snap.ForSaleCatalog)
		result.UpdatedAt = snap.CatalogUpdatedAt
	case market.ViewMyTokens:
		result.Size = len(snap.MyTokens)
		result.UpdatedAt = snap.TokensUpdatedAt
	}

	a.logger.InfoContext(ctx, "view refreshed",
		"view", view,
		"size", result.Size,
	)

	return result, nil
}
