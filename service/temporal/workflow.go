package temporal

import (
	"errors"
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ResyncViewsWorkflow rebuilds both derived views for an account. It is
// triggered by a Temporal schedule at the configured resync interval.
//
// The catalog and token refreshes run in parallel. If either one is refused
// because a write is pending, the run is reported as skipped rather than
// failed; the next scheduled run picks it up.
func ResyncViewsWorkflow(ctx workflow.Context, input ResyncViewsInput) (*ResyncViewsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ResyncViewsWorkflow started", "account", input.Account)

	result := &ResyncViewsResult{
		Account:   input.Account,
		StartedAt: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeBusy, ErrTypeAccountMismatch},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	activityInput := RefreshViewInput{Account: input.Account}
	catalogFuture := workflow.ExecuteActivity(ctx, a.RefreshCatalog, activityInput)
	tokensFuture := workflow.ExecuteActivity(ctx, a.RefreshTokens, activityInput)

	var errs []error
	for _, f := range []workflow.Future{catalogFuture, tokensFuture} {
		var view *RefreshViewResult
		err := f.Get(ctx, &view)
		switch {
		case isBusy(err):
			result.Skipped = true
		case err != nil:
			errs = append(errs, err)
		case view != nil:
			result.Views = append(result.Views, *view)
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.Error("ResyncViewsWorkflow failed", "account", input.Account, "error", err)
		errMsg := err.Error()
		result.Error = &errMsg
		return result, fmt.Errorf("failed to resync views: %w", err)
	}

	if result.Skipped {
		logger.Info("ResyncViewsWorkflow skipped, operation pending", "account", input.Account)
		return result, nil
	}

	logger.Info("ResyncViewsWorkflow completed successfully",
		"account", input.Account,
		"views", len(result.Views),
	)
	return result, nil
}

func isBusy(err error) bool {
	var appErr *temporalsdk.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == ErrTypeBusy
}
