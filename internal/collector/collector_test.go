package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdash/overview-engine/internal/model"
	"github.com/quantdash/overview-engine/internal/series"
)

type fakeSource struct {
	mu        sync.Mutex
	positions map[string][]model.PositionRecord
	errs      map[string]error
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSource) ListPositions(ctx context.Context, exchange string) ([]model.PositionRecord, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[exchange]; err != nil {
		return nil, err
	}
	return f.positions[exchange], nil
}

func rec(exchange, at string, pnl int64) model.PositionRecord {
	return model.PositionRecord{
		Exchange:    exchange,
		Status:      model.StatusClosed,
		UpdatedAt:   at,
		RealizedPnL: model.NewPnL(decimal.NewFromInt(pnl)),
	}
}

func TestCollect_PreservesRequestOrder(t *testing.T) {
	src := &fakeSource{positions: map[string][]model.PositionRecord{
		"binance": {rec("binance", "2024-01-01", 5)},
		"okx":     {rec("okx", "2024-01-02", -1), rec("okx", "2024-01-03", 2)},
	}}

	col := New(src, 0, 0).Collect(context.Background(), []string{"okx", "binance"})

	assert.Equal(t, []string{"okx", "binance"}, col.Exchanges())
	by := col.ByExchange()
	require.Len(t, by, 2)
	assert.Len(t, by[0], 2)
	assert.Len(t, by[1], 1)
	assert.Empty(t, col.Failures())
}

func TestCollect_FailedExchangeContributesNothing(t *testing.T) {
	src := &fakeSource{
		positions: map[string][]model.PositionRecord{
			"binance": {rec("binance", "2024-01-01", 5), rec("binance", "2024-01-02", -2)},
			"okx":     {rec("okx", "2024-01-03", 100)},
		},
		errs: map[string]error{"okx": errors.New("connection refused")},
	}

	col := New(src, 2, 0).Collect(context.Background(), []string{"binance", "okx"})

	failures := col.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "okx", failures[0].Exchange)
	assert.Contains(t, failures[0].Error, "connection refused")

	okx := col.Results[1]
	assert.NotNil(t, okx.Positions)
	assert.Empty(t, okx.Positions)

	agg := series.ComputeAggregate(col.ByExchange())
	single := series.Compute(src.positions["binance"])
	require.Equal(t, single.Len(), agg.Len())
	for i := range agg.Equity {
		assert.True(t, agg.Equity[i].Equity.Equal(single.Equity[i].Equity))
	}
}

func TestCollect_NilPositionsBecomeEmpty(t *testing.T) {
	col := New(&fakeSource{}, 0, 0).Collect(context.Background(), []string{"bybit"})
	require.Len(t, col.Results, 1)
	assert.NotNil(t, col.Results[0].Positions)
	assert.NoError(t, col.Results[0].Err)
}

func TestCollect_RespectsConcurrencyLimit(t *testing.T) {
	src := &fakeSource{delay: 20 * time.Millisecond}
	exchanges := []string{"a", "b", "c", "d", "e", "f"}

	New(src, 2, 0).Collect(context.Background(), exchanges)

	assert.LessOrEqual(t, src.maxInFlight.Load(), int32(2))
	assert.GreaterOrEqual(t, src.maxInFlight.Load(), int32(1))
}

func TestCollect_RunsConcurrently(t *testing.T) {
	src := &fakeSource{delay: 50 * time.Millisecond}

	start := time.Now()
	New(src, 0, 0).Collect(context.Background(), []string{"a", "b", "c", "d"})

	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

func TestCollect_PerFetchTimeout(t *testing.T) {
	src := &fakeSource{delay: time.Second}

	col := New(src, 0, 20*time.Millisecond).Collect(context.Background(), []string{"slow"})

	require.Len(t, col.Failures(), 1)
	assert.ErrorIs(t, col.Results[0].Err, context.DeadlineExceeded)
}
