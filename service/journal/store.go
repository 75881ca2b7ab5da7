// Package journal records submitted operations and their outcomes.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/metrics"
)

// ErrNotFound is returned by Get for an unknown operation id.
var ErrNotFound = errors.New("operation not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Store persists operation records. Save upserts by record id, so the
// pending and settled versions of an operation collapse into one row.
type Store interface {
	Save(ctx context.Context, rec market.OperationRecord) error
	Get(ctx context.Context, id string) (market.OperationRecord, error)
	List(ctx context.Context, params ListParams) ([]market.OperationRecord, error)
	Close() error
}

// ListParams filters List. Zero fields match everything. Results are
// newest first.
type ListParams struct {
	Account market.Account
	Tag     market.OperationTag
	Status  market.OperationStatus
	Limit   int
}

func (p ListParams) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultListLimit
	case p.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return p.Limit
	}
}

func (p ListParams) matches(rec market.OperationRecord) bool {
	if !p.Account.IsZero() && !p.Account.Equal(rec.Account) {
		return false
	}
	if p.Tag != "" && p.Tag != rec.Tag {
		return false
	}
	if p.Status != "" && p.Status != rec.Status {
		return false
	}
	return true
}

func validate(rec market.OperationRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("operation id is required")
	}
	if !rec.Tag.Valid() {
		return fmt.Errorf("unknown operation tag %q", rec.Tag)
	}
	if rec.Status == "" {
		return fmt.Errorf("operation status is required")
	}
	if rec.SubmittedAt.IsZero() {
		return fmt.Errorf("submitted_at is required")
	}
	return nil
}

// Open returns the store named by rawURL:
//
//	"" or memory://        in-process, lost on exit
//	sqlite://path/to/file  local file
//	postgres://...         shared database
func Open(ctx context.Context, rawURL string, m *metrics.Metrics, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store   Store
		backend string
		err     error
	)
	switch {
	case rawURL == "" || rawURL == "memory://":
		store, backend = NewMemoryStore(), "memory"
	case strings.HasPrefix(rawURL, "sqlite://"):
		store, err = OpenSQLite(ctx, strings.TrimPrefix(rawURL, "sqlite://"))
		backend = "sqlite"
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		store, err = OpenPostgres(ctx, rawURL)
		backend = "postgres"
	default:
		u, perr := url.Parse(rawURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid journal url: %w", perr)
		}
		return nil, fmt.Errorf("unsupported journal scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("operation journal opened", "backend", backend)
	return &instrumented{Store: store, backend: backend, metrics: m}, nil
}

// instrumented records write latency for any backend.
type instrumented struct {
	Store
	backend string
	metrics *metrics.Metrics
}

func (s *instrumented) Save(ctx context.Context, rec market.OperationRecord) error {
	start := time.Now()
	err := s.Store.Save(ctx, rec)
	if s.metrics != nil {
		s.metrics.RecordJournalWrite(s.backend, time.Since(start).Seconds(), err)
	}
	return err
}
