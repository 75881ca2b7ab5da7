package temporal

import (
	"context"
	"time"

	"github.com/brojonat/mintmarket/service/market"
)

// Scheduler manages Temporal schedules for background view resyncs.
// Each account gets its own schedule that triggers the ResyncViewsWorkflow.
type Scheduler interface {
	// UpsertResyncSchedule creates the schedule for an account, or updates
	// its interval if it already exists.
	UpsertResyncSchedule(ctx context.Context, account market.Account, interval time.Duration) error

	// DeleteResyncSchedule deletes the schedule for an account.
	DeleteResyncSchedule(ctx context.Context, account market.Account) error
}

// scheduleID returns the Temporal schedule ID for an account.
func scheduleID(account market.Account) string {
	return "resync-views-" + account.Normalized()
}
