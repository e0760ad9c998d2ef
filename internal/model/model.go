// Package model defines the core domain types shared across the overview engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position lifecycle states reported by the trading service.
const (
	StatusOpen       = "open"
	StatusClosed     = "closed"
	StatusLiquidated = "liquidated"
	StatusADL        = "adl"
)

var validStatuses = map[string]bool{
	StatusOpen:       true,
	StatusClosed:     true,
	StatusLiquidated: true,
	StatusADL:        true,
}

// ValidStatus reports whether s is a known position status.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

// PositionRecord is one position as returned by the trading-positions API.
// Only closed records take part in series aggregation.
type PositionRecord struct {
	ID          string `json:"id,omitempty" db:"id"`
	Exchange    string `json:"exchange" db:"exchange"`
	Symbol      string `json:"symbol,omitempty" db:"symbol"`
	Side        string `json:"side,omitempty" db:"side"`
	Status      string `json:"status" db:"status"`
	RealizedPnL PnL    `json:"realized_pnl" db:"realized_pnl"`
	UpdatedAt   string `json:"updated_at" db:"updated_at"` // closing/settlement time, kept verbatim
}

// Closed reports whether the record has ended with a realized result.
func (p PositionRecord) Closed() bool {
	return p.Status == StatusClosed
}

// EquityPoint is one point of the cumulative realized-PnL curve.
type EquityPoint struct {
	Date   string          `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}

// WinRatePoint is one point of the running win-rate series, in percent.
type WinRatePoint struct {
	Date    string          `json:"date"`
	WinRate decimal.Decimal `json:"win_rate"`
}

// Series holds both derived series. Index i of Equity and WinRate refers to
// the same closed record.
type Series struct {
	Equity  []EquityPoint  `json:"equity"`
	WinRate []WinRatePoint `json:"win_rate"`
}

// Len returns the number of points in the series.
func (s Series) Len() int {
	return len(s.Equity)
}

// Summary condenses a series into the headline numbers of the overview card.
type Summary struct {
	Exchange     string          `json:"exchange"`
	ClosedTrades int             `json:"closed_trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      decimal.Decimal `json:"win_rate"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	PeakEquity   decimal.Decimal `json:"peak_equity"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"` // largest peak-to-trough drop, >= 0
}

// ExchangeFailure records an exchange whose positions could not be fetched.
type ExchangeFailure struct {
	Exchange string `json:"exchange"`
	Error    string `json:"error"`
}

// SeriesReport is the payload served for a series request.
type SeriesReport struct {
	Exchanges   []string          `json:"exchanges"`
	Series      Series            `json:"series"`
	Failed      []ExchangeFailure `json:"failed,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}
