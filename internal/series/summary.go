package series

import (
	"github.com/shopspring/decimal"

	"github.com/quantdash/overview-engine/internal/model"
)

// Summarize reduces a series to its headline numbers. Wins and losses are
// recovered from the equity deltas; a zero-PnL trade is neither. Drawdown is
// measured from the running peak with the curve starting at zero.
func Summarize(exchange string, s model.Series) model.Summary {
	sum := model.Summary{
		Exchange:     exchange,
		ClosedTrades: s.Len(),
		WinRate:      decimal.Zero,
		RealizedPnL:  decimal.Zero,
		PeakEquity:   decimal.Zero,
		MaxDrawdown:  decimal.Zero,
	}

	prev := decimal.Zero
	peak := decimal.Zero
	for _, p := range s.Equity {
		delta := p.Equity.Sub(prev)
		switch {
		case delta.IsPositive():
			sum.Wins++
		case delta.IsNegative():
			sum.Losses++
		}
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if dd := peak.Sub(p.Equity); dd.GreaterThan(sum.MaxDrawdown) {
			sum.MaxDrawdown = dd
		}
		prev = p.Equity
	}

	sum.RealizedPnL = prev
	sum.PeakEquity = peak
	if n := len(s.WinRate); n > 0 {
		sum.WinRate = s.WinRate[n-1].WinRate
	}
	return sum
}
