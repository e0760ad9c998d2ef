package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdash/overview-engine/internal/model"
)

// PostgresSchema creates the positions table. realized_pnl is NUMERIC for
// exact decimal precision and nullable because upstream often omits it.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS positions (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	exchange     TEXT NOT NULL,
	symbol       TEXT NOT NULL DEFAULT '',
	side         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	realized_pnl NUMERIC,
	updated_at   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS positions_exchange_seq_idx ON positions (exchange, seq);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the positions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPositions(ctx context.Context, positions []model.PositionRecord) error {
	if err := validate(positions); err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(
			`INSERT INTO positions (id, exchange, symbol, side, status, realized_pnl, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
			 ON CONFLICT (id) DO UPDATE
			 SET exchange = EXCLUDED.exchange, symbol = EXCLUDED.symbol, side = EXCLUDED.side,
			     status = EXCLUDED.status, realized_pnl = EXCLUDED.realized_pnl,
			     updated_at = EXCLUDED.updated_at`,
			p.ID, p.Exchange, p.Symbol, p.Side, p.Status, nullablePnL(p.RealizedPnL), p.UpdatedAt,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert positions: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert positions: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, exchange, symbol, side, status, realized_pnl::TEXT, updated_at
		 FROM positions WHERE exchange = $1 ORDER BY seq`, exchange)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", exchange, err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListExchanges(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT exchange FROM positions ORDER BY exchange`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exchanges := []string{}
	for rows.Next() {
		var ex string
		if err := rows.Scan(&ex); err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// nullablePnL maps an invalid PnL to SQL NULL.
func nullablePnL(p model.PnL) any {
	if !p.Valid {
		return nil
	}
	return p.Value.String()
}

// scanPositions reads rows into PositionRecord slices. Shared by the pgx and
// database/sql stores.
type positionRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPositions(rows positionRows) ([]model.PositionRecord, error) {
	positions := []model.PositionRecord{}
	for rows.Next() {
		var p model.PositionRecord
		var pnl *string

		if err := rows.Scan(&p.ID, &p.Exchange, &p.Symbol, &p.Side, &p.Status,
			&pnl, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if pnl != nil {
			p.RealizedPnL = model.ParsePnL(*pnl)
		}

		positions = append(positions, p)
	}
	return positions, rows.Err()
}
