package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
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
	submitted_at INTEGER NOT NULL,
	settled_at   INTEGER
);
CREATE INDEX IF NOT EXISTS operations_account_submitted
	ON operations (account_key, submitted_at DESC);
`

// SQLiteStore keeps the journal in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite journal schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec market.OperationRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	var settled sql.NullInt64
	if rec.SettledAt != nil {
		settled = sql.NullInt64{Int64: toMillis(*rec.SettledAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (id, tag, account, account_key, token_id, cid, price, tx_hash, status, error, submitted_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tx_hash = excluded.tx_hash,
			status = excluded.status,
			error = excluded.error,
			settled_at = excluded.settled_at`,
		rec.ID, string(rec.Tag), string(rec.Account), rec.Account.Normalized(),
		nullString(tokenIDText(rec.TokenID)), rec.CID, nullString(priceText(rec.Price)),
		rec.TxHash, string(rec.Status), rec.Error, toMillis(rec.SubmittedAt), settled,
	)
	if err != nil {
		return fmt.Errorf("save operation %s: %w", rec.ID, err)
	}
	return nil
}

const sqliteColumns = `id, tag, account, token_id, cid, price, tx_hash, status, error, submitted_at, settled_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (market.OperationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM operations WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.OperationRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, params ListParams) ([]market.OperationRecord, error) {
	var (
		where []string
		args  []any
	)
	if !params.Account.IsZero() {
		where = append(where, "account_key = ?")
		args = append(args, params.Account.Normalized())
	}
	if params.Tag != "" {
		where = append(where, "tag = ?")
		args = append(args, string(params.Tag))
	}
	if params.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(params.Status))
	}

	query := `SELECT ` + sqliteColumns + ` FROM operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id DESC LIMIT ?"
	args = append(args, params.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := make([]market.OperationRecord, 0)
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (market.OperationRecord, error) {
	var (
		rec            market.OperationRecord
		tag, account   string
		status         string
		tokenID, price sql.NullString
		submitted      int64
		settled        sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &tag, &account, &tokenID, &rec.CID, &price, &rec.TxHash, &status, &rec.Error, &submitted, &settled); err != nil {
		return rec, err
	}
	rec.Tag = market.OperationTag(tag)
	rec.Account = market.Account(account)
	rec.Status = market.OperationStatus(status)
	rec.SubmittedAt = fromMillis(submitted)
	if settled.Valid {
		at := fromMillis(settled.Int64)
		rec.SettledAt = &at
	}

	var err error
	if rec.TokenID, err = parseTokenIDText(stringPtr(tokenID)); err != nil {
		return rec, err
	}
	if rec.Price, err = parsePriceText(stringPtr(price)); err != nil {
		return rec, err
	}
	return rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
