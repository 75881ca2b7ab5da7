package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/mintmarket/service/market"
)

// DefaultPublishTimeout bounds a single notification publish.
const DefaultPublishTimeout = 5 * time.Second

// Notifier forwards market notifications to a Publisher. Publish failures
// are logged and dropped; they never affect the operation that caused them.
type Notifier struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

var _ market.Notifier = (*Notifier)(nil)

// NewNotifier wraps p.
func NewNotifier(p Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publisher: p,
		timeout:   DefaultPublishTimeout,
		logger:    logger.With("component", "notifier"),
	}
}

// OperationUpdated publishes rec as an operation event.
func (n *Notifier) OperationUpdated(ctx context.Context, rec market.OperationRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.publisher.PublishOperation(ctx, FromOperationRecord(rec)); err != nil {
		n.logger.WarnContext(ctx, "failed to publish operation event",
			"operation_id", rec.ID,
			"status", rec.Status,
			"error", err,
		)
	}
}

// ViewPublished publishes u as a view event.
func (n *Notifier) ViewPublished(ctx context.Context, u market.ViewUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.publisher.PublishView(ctx, FromViewUpdate(u)); err != nil {
		n.logger.WarnContext(ctx, "failed to publish view event",
			"view", u.View,
			"error", err,
		)
	}
}
