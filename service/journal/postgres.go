package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS operations (
	id           TEXT PRIMARY KEY,
	tag          TEXT NOT NULL,
	account      TEXT NOT NULL,
	account_key  TEXT NOT NULL,
	token_id     TEXT,
	cid          TEXT NOT NULL DEFAULT '',
	price        TEXT,
	tx_hash      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	settled_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS operations_account_submitted
	ON operations (account_key, submitted_at DESC);
`

// PostgresStore keeps the journal in a shared PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership of
// the pool only if it does not call Close.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec market.OperationRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operations (id, tag, account, account_key, token_id, cid, price, tx_hash, status, error, submitted_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			settled_at = EXCLUDED.settled_at`,
		rec.ID, string(rec.Tag), string(rec.Account), rec.Account.Normalized(),
		tokenIDText(rec.TokenID), rec.CID, priceText(rec.Price),
		rec.TxHash, string(rec.Status), rec.Error, rec.SubmittedAt.UTC(), utcPtr(rec.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("save operation %s: %w", rec.ID, err)
	}
	return nil
}

const postgresColumns = `id, tag, account, token_id, cid, price, tx_hash, status, error, submitted_at, settled_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (market.OperationRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM operations WHERE id = $1`, id)
	rec, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.OperationRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) List(ctx context.Context, params ListParams) ([]market.OperationRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !params.Account.IsZero() {
		where = append(where, "account_key = "+arg(params.Account.Normalized()))
	}
	if params.Tag != "" {
		where = append(where, "tag = "+arg(string(params.Tag)))
	}
	if params.Status != "" {
		where = append(where, "status = "+arg(string(params.Status)))
	}

	query := `SELECT ` + postgresColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id DESC LIMIT " + arg(params.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := make([]market.OperationRecord, 0)
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (market.OperationRecord, error) {
	var (
		rec            market.OperationRecord
		tag, account   string
		status         string
		tokenID, price *string
		settled        *time.Time
	)
	if err := row.Scan(&rec.ID, &tag, &account, &tokenID, &rec.CID, &price, &rec.TxHash, &status, &rec.Error, &rec.SubmittedAt, &settled); err != nil {
		return rec, err
	}
	rec.Tag = market.OperationTag(tag)
	rec.Account = market.Account(account)
	rec.Status = market.OperationStatus(status)
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	rec.SettledAt = utcPtr(settled)

	var err error
	if rec.TokenID, err = parseTokenIDText(tokenID); err != nil {
		return rec, err
	}
	if rec.Price, err = parsePriceText(price); err != nil {
		return rec, err
	}
	return rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
