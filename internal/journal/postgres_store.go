package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists entries in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sweep_runs (
    run_id TEXT PRIMARY KEY,
    chain TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    processed_records INT NOT NULL,
    executed_payments INT NOT NULL,
    outcomes JSONB NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sweep_runs_finished_at_idx ON sweep_runs (finished_at DESC);
`

const selectColumns = `run_id, chain, started_at, finished_at, processed_records, executed_payments, outcomes, error, expires_at`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Save(ctx context.Context, entry Entry) error {
	if entry.RunID == "" {
		return errors.New("journal entry has no run id")
	}
	outcomes, err := json.Marshal(entry.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO sweep_runs (run_id, chain, started_at, finished_at, processed_records, executed_payments, outcomes, error, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id) DO UPDATE
SET chain = EXCLUDED.chain,
    started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at,
    processed_records = EXCLUDED.processed_records,
    executed_payments = EXCLUDED.executed_payments,
    outcomes = EXCLUDED.outcomes,
    error = EXCLUDED.error,
    expires_at = EXCLUDED.expires_at
`, entry.RunID, entry.Chain, entry.StartedAt, entry.FinishedAt, entry.ProcessedRecords,
		entry.ExecutedPayments, outcomes, entry.Error, entry.ExpiresAt)
	if err != nil {
		return err
	}
	return p.prune(ctx)
}

func (p *PostgresStore) Latest(ctx context.Context) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
SELECT `+selectColumns+`
FROM sweep_runs
WHERE expires_at > now()
ORDER BY finished_at DESC, run_id DESC
LIMIT 1
`)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM sweep_runs
WHERE expires_at > now()
ORDER BY finished_at DESC, run_id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e        Entry
		outcomes []byte
	)
	if err := row.Scan(&e.RunID, &e.Chain, &e.StartedAt, &e.FinishedAt, &e.ProcessedRecords,
		&e.ExecutedPayments, &outcomes, &e.Error, &e.ExpiresAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal(outcomes, &e.Outcomes); err != nil {
		return Entry{}, fmt.Errorf("decode outcomes for %s: %w", e.RunID, err)
	}
	return e, nil
}

// prune drops expired runs in the same call as the save that triggered it.
func (p *PostgresStore) prune(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sweep_runs WHERE expires_at <= now()`); err != nil {
		return fmt.Errorf("prune expired runs: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
