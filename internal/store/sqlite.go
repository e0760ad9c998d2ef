package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantdash/overview-engine/internal/model"
)

// SQLiteSchema mirrors PostgresSchema. realized_pnl is TEXT so amounts keep
// their exact decimal representation.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS positions (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	exchange     TEXT NOT NULL,
	symbol       TEXT NOT NULL DEFAULT '',
	side         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	realized_pnl TEXT,
	updated_at   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS positions_exchange_seq_idx ON positions (exchange, seq);
`

// SQLiteStore implements Store on a local SQLite file for single-node
// deployments that have no PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across pool connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertPositions(ctx context.Context, positions []model.PositionRecord) error {
	if err := validate(positions); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert positions: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO positions (id, exchange, symbol, side, status, realized_pnl, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET exchange = excluded.exchange, symbol = excluded.symbol, side = excluded.side,
		     status = excluded.status, realized_pnl = excluded.realized_pnl,
		     updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("insert positions: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Exchange, p.Symbol, p.Side, p.Status, nullablePnL(p.RealizedPnL), p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert position %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exchange, symbol, side, status, realized_pnl, updated_at
		 FROM positions WHERE exchange = ? ORDER BY seq`, exchange)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", exchange, err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *SQLiteStore) ListExchanges(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT exchange FROM positions ORDER BY exchange`)
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
