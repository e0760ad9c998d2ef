// Package series derives the account-overview analytics from position records:
// the cumulative realized-PnL equity curve and the running win rate.
//
// Both series are pure functions of their input. Nothing here holds state,
// so results are recomputed whenever the underlying position list changes.
package series

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdash/overview-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ComputeSeries turns an unordered list of position records into the equity
// and win-rate series. Only closed records contribute; they are ordered by
// updated_at ascending with ties kept in input order. Records whose
// updated_at cannot be parsed sort after all dated records.
//
// Both returned slices are non-nil and have one point per closed record.
func ComputeSeries(positions []model.PositionRecord) ([]model.EquityPoint, []model.WinRatePoint) {
	return accumulate(sortClosed(positions, false))
}

// ComputeAggregateSeries unions the per-exchange lists and computes a single
// series over the combined set. Realized PnL and wins from every exchange
// are pooled; an empty list (an exchange that failed to load) contributes
// nothing. The result does not depend on the order of the lists or of the
// records within them: records sharing a timestamp are ordered by exchange,
// then raw updated_at, id and realized PnL.
//
// That ordering means the result is only guaranteed to equal ComputeSeries over the
// concatenated lists when no two closed records share a timestamp;
// ComputeSeries keeps such ties in input order instead.
func ComputeAggregateSeries(positionsByExchange [][]model.PositionRecord) ([]model.EquityPoint, []model.WinRatePoint) {
	var n int
	for _, list := range positionsByExchange {
		n += len(list)
	}
	combined := make([]model.PositionRecord, 0, n)
	for _, list := range positionsByExchange {
		combined = append(combined, list...)
	}
	return accumulate(sortClosed(combined, true))
}

// Compute is ComputeSeries returning a Series container.
func Compute(positions []model.PositionRecord) model.Series {
	eq, wr := ComputeSeries(positions)
	return model.Series{Equity: eq, WinRate: wr}
}

// ComputeAggregate is ComputeAggregateSeries returning a Series container.
func ComputeAggregate(positionsByExchange [][]model.PositionRecord) model.Series {
	eq, wr := ComputeAggregateSeries(positionsByExchange)
	return model.Series{Equity: eq, WinRate: wr}
}

type keyed struct {
	rec   model.PositionRecord
	at    time.Time
	dated bool
}

// sortClosed filters to closed records and returns them in chronological
// order. With total set, records sharing a timestamp are further ordered by
// tieBefore so that the union of several lists sorts the same way regardless
// of concatenation order. The input slice is never reordered.
func sortClosed(positions []model.PositionRecord, total bool) []keyed {
	closed := make([]keyed, 0, len(positions))
	for _, p := range positions {
		if !p.Closed() {
			continue
		}
		at, ok := model.ParseTimestamp(p.UpdatedAt)
		closed = append(closed, keyed{rec: p, at: at, dated: ok})
	}

	sort.SliceStable(closed, func(i, j int) bool {
		a, b := closed[i], closed[j]
		if a.dated != b.dated {
			return a.dated
		}
		if a.dated && !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if total {
			return tieBefore(a.rec, b.rec)
		}
		return false
	})
	return closed
}

// tieBefore orders two records with the same instant. Records equal on every
// key contribute identical points, so their relative order is unobservable.
func tieBefore(a, b model.PositionRecord) bool {
	if a.Exchange != b.Exchange {
		return a.Exchange < b.Exchange
	}
	if a.UpdatedAt != b.UpdatedAt {
		return a.UpdatedAt < b.UpdatedAt
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.RealizedPnL.OrZero().LessThan(b.RealizedPnL.OrZero())
}

func accumulate(closed []keyed) ([]model.EquityPoint, []model.WinRatePoint) {
	equity := make([]model.EquityPoint, 0, len(closed))
	winRate := make([]model.WinRatePoint, 0, len(closed))

	runningSum := decimal.Zero
	var wins, total int64

	for _, k := range closed {
		pnl := k.rec.RealizedPnL.OrZero()
		runningSum = runningSum.Add(pnl)

		total++
		if pnl.IsPositive() {
			wins++
		}
		rate := decimal.NewFromInt(wins).Mul(hundred).Div(decimal.NewFromInt(total))

		equity = append(equity, model.EquityPoint{Date: k.rec.UpdatedAt, Equity: runningSum})
		winRate = append(winRate, model.WinRatePoint{Date: k.rec.UpdatedAt, WinRate: rate})
	}

	return equity, winRate
}
