// Package collector gathers position records for several exchanges at once.
//
// Each exchange is fetched independently and concurrently. A failed fetch is
// replaced by an empty list, so one broken venue under-counts the aggregate
// view instead of blanking it.
package collector

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantdash/overview-engine/internal/metrics"
	"github.com/quantdash/overview-engine/internal/model"
)

// Source lists the positions of one exchange. Implemented by the upstream
// client and by every store.
type Source interface {
	ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error)
}

// Result is the outcome for one exchange. Positions is empty, never nil,
// when Err is set.
type Result struct {
	Exchange  string
	Positions []model.PositionRecord
	Err       error
}

// Collection holds one Result per requested exchange, in request order.
type Collection struct {
	Results []Result
}

// Exchanges returns the requested exchange names in order.
func (c Collection) Exchanges() []string {
	out := make([]string, len(c.Results))
	for i, r := range c.Results {
		out[i] = r.Exchange
	}
	return out
}

// ByExchange returns the per-exchange position lists, ready for aggregation.
func (c Collection) ByExchange() [][]model.PositionRecord {
	out := make([][]model.PositionRecord, len(c.Results))
	for i, r := range c.Results {
		out[i] = r.Positions
	}
	return out
}

// Failures lists the exchanges that contributed nothing because of an error.
func (c Collection) Failures() []model.ExchangeFailure {
	var out []model.ExchangeFailure
	for _, r := range c.Results {
		if r.Err != nil {
			out = append(out, model.ExchangeFailure{Exchange: r.Exchange, Error: r.Err.Error()})
		}
	}
	return out
}

// Collector fans position fetches out over a bounded number of goroutines.
type Collector struct {
	src         Source
	concurrency int
	timeout     time.Duration
}

// New creates a Collector. concurrency < 1 means one goroutine per exchange;
// timeout <= 0 leaves each fetch bounded only by the caller's context.
func New(src Source, concurrency int, timeout time.Duration) *Collector {
	return &Collector{src: src, concurrency: concurrency, timeout: timeout}
}

// Collect fetches every exchange. It never fails as a whole; per-exchange
// errors are recorded in the matching Result.
func (c *Collector) Collect(ctx context.Context, exchanges []string) Collection {
	results := make([]Result, len(exchanges))

	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}

	for i, ex := range exchanges {
		i, ex := i, ex
		g.Go(func() error {
			results[i] = c.fetch(ctx, ex)
			return nil
		})
	}
	_ = g.Wait()

	return Collection{Results: results}
}

func (c *Collector) fetch(ctx context.Context, exchange string) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	positions, err := c.src.ListPositions(ctx, exchange)
	if err != nil {
		slog.Warn("exchange positions unavailable, contributing nothing",
			"exchange", exchange,
			"err", err,
		)
		metrics.ExchangeFailures.WithLabelValues(exchange).Inc()
		return Result{Exchange: exchange, Positions: []model.PositionRecord{}, Err: err}
	}
	if positions == nil {
		positions = []model.PositionRecord{}
	}
	return Result{Exchange: exchange, Positions: positions}
}
