// Package store defines the persistence interface for position records.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// deployments), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/quantdash/overview-engine/internal/model"
)

// ErrMissingID is returned when a record without an id is written.
var ErrMissingID = errors.New("store: position id is required")

// Store is the persistence interface. Positions are upserted by id; a
// position that moves from open to closed is written again under the same id.
type Store interface {
	// InsertPositions upserts records. Records keep their first-insert order
	// within an exchange.
	InsertPositions(ctx context.Context, positions []model.PositionRecord) error

	// ListPositions returns every record stored for one exchange, in insert order.
	ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error)

	// ListExchanges returns the distinct exchanges that have records.
	ListExchanges(ctx context.Context) ([]string, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

func validate(positions []model.PositionRecord) error {
	for _, p := range positions {
		if p.ID == "" {
			return ErrMissingID
		}
	}
	return nil
}
