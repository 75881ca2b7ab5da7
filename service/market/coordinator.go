package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintmarket/service/metrics"
	"github.com/google/uuid"
)

// DefaultConfirmTimeout bounds how long Run waits for a write to confirm.
const DefaultConfirmTimeout = 5 * time.Minute

// DefaultJournalTimeout bounds each journal write made while the busy flag is held.
const DefaultJournalTimeout = 10 * time.Second

// Operation is one state-changing request handed to the Coordinator.
// TokenID, CID and Price are recorded in the journal only.
type Operation struct {
	Tag     OperationTag
	TokenID *TokenID
	CID     string
	Price   *Price
	Submit  func(ctx context.Context) (PendingWrite, error)
}

// Result is returned by Run for a confirmed operation. RefreshErr is set when
// the follow-up rebuild of an affected view failed; the write itself succeeded.
type Result struct {
	Operation  OperationRecord `json:"operation"`
	RefreshErr error           `json:"-"`
}

// Coordinator runs state-changing operations one at a time: submit, await
// confirmation, then re-derive the affected views.
type Coordinator struct {
	session        *Session
	reconciler     *Reconciler
	journal        Journal
	notifier       Notifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
	confirmTimeout time.Duration
	journalTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// CoordinatorConfig holds the Coordinator's optional collaborators.
type CoordinatorConfig struct {
	Journal        Journal
	Notifier       Notifier
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	ConfirmTimeout time.Duration
	JournalTimeout time.Duration
}

// NewCoordinator creates a Coordinator over session and reconciler.
func NewCoordinator(session *Session, reconciler *Reconciler, cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.JournalTimeout <= 0 {
		cfg.JournalTimeout = DefaultJournalTimeout
	}
	return &Coordinator{
		session:        session,
		reconciler:     reconciler,
		journal:        cfg.Journal,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With("component", "coordinator"),
		confirmTimeout: cfg.ConfirmTimeout,
		journalTimeout: cfg.JournalTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Run executes op under the busy flag. It returns ErrBusy without side
// effects when another operation is pending. A failed submission or
// confirmation returns a *GatewayError and leaves the views unchanged. The
// busy flag is released on every path, including a panicking Submit.
func (c *Coordinator) Run(ctx context.Context, op Operation) (result *Result, err error) {
	if !op.Tag.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, op.Tag)
	}
	if op.Submit == nil {
		return nil, fmt.Errorf("%w: operation %q has no action", ErrInvalidInput, op.Tag)
	}
	if !c.session.tryBegin(op.Tag) {
		if c.metrics != nil {
			c.metrics.RecordBusyRejection(string(op.Tag))
		}
		pending, _ := c.session.Pending()
		c.logger.DebugContext(ctx, "operation rejected, another is pending",
			"tag", op.Tag,
			"pending", pending,
		)
		return nil, ErrBusy
	}

	start := c.now()
	rec := OperationRecord{
		ID:          c.newID(),
		Tag:         op.Tag,
		Account:     c.session.Account(),
		TokenID:     op.TokenID,
		CID:         op.CID,
		Price:       op.Price,
		Status:      StatusPending,
		SubmittedAt: start.UTC(),
	}

	stage := "submit"
	released := false
	defer func() {
		if released {
			return
		}
		if p := recover(); p != nil {
			err = c.fail(ctx, &rec, stage, fmt.Errorf("panic: %v", p))
			result = nil
		}
		c.session.finish(false)
		if c.metrics != nil {
			c.metrics.RecordOperation(string(op.Tag), string(rec.Status), c.now().Sub(start).Seconds())
		}
	}()

	c.logger.InfoContext(ctx, "submitting operation",
		"operation_id", rec.ID,
		"tag", op.Tag,
		"account", rec.Account,
	)

	pw, err := op.Submit(ctx)
	if err != nil {
		return nil, c.fail(ctx, &rec, stage, err)
	}
	rec.TxHash = pw.TxHash()
	c.record(ctx, rec)

	stage = "confirm"
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	if err := pw.AwaitConfirmation(waitCtx); err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			rec.Status = StatusTimeout
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, c.confirmTimeout, err)
		}
		return nil, c.fail(ctx, &rec, stage, err)
	}

	rec.Status = StatusConfirmed
	settled := c.now().UTC()
	rec.SettledAt = &settled
	c.record(ctx, rec)

	c.logger.InfoContext(ctx, "operation confirmed",
		"operation_id", rec.ID,
		"tag", op.Tag,
		"tx_hash", rec.TxHash,
		"duration", settled.Sub(start).Seconds(),
	)

	// The pending flag must be clear before the affected views are rebuilt.
	released = true
	c.session.finish(true)
	if c.metrics != nil {
		c.metrics.RecordOperation(string(op.Tag), string(rec.Status), settled.Sub(start).Seconds())
	}

	result = &Result{Operation: rec}
	if c.reconciler != nil {
		result.RefreshErr = c.reconciler.Refresh(ctx, op.Tag.AffectedViews()...)
	}
	return result, nil
}

// fail settles rec as failed (or timed out) and builds the caller's error.
func (c *Coordinator) fail(ctx context.Context, rec *OperationRecord, stage string, cause error) error {
	if rec.Status == StatusPending {
		rec.Status = StatusFailed
	}
	rec.Error = cause.Error()
	settled := c.now().UTC()
	rec.SettledAt = &settled
	c.record(ctx, *rec)

	c.logger.ErrorContext(ctx, "operation failed",
		"operation_id", rec.ID,
		"tag", rec.Tag,
		"stage", stage,
		"tx_hash", rec.TxHash,
		"status", rec.Status,
		"error", cause,
	)
	return &GatewayError{Tag: rec.Tag, Stage: stage, TxHash: rec.TxHash, Err: cause}
}

// record journals and announces rec. Failures here never fail the operation.
func (c *Coordinator) record(ctx context.Context, rec OperationRecord) {
	if c.journal != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.journalTimeout)
		err := c.journal.Save(saveCtx, rec)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "failed to journal operation",
				"operation_id", rec.ID,
				"status", rec.Status,
				"error", err,
			)
		}
	}
	if c.notifier != nil {
		c.notifier.OperationUpdated(ctx, rec)
	}
}
