package model

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PnL is a realized profit/loss amount as reported upstream. The field is
// frequently absent, null or malformed for non-closed records, so decoding
// never fails: anything that is not a number (or a numeric string) leaves
// Valid=false and the amount reads as zero.
type PnL struct {
	Value decimal.Decimal
	Valid bool
}

// NewPnL returns a valid PnL holding d.
func NewPnL(d decimal.Decimal) PnL {
	return PnL{Value: d, Valid: true}
}

// maxPnLExponent bounds the decimal exponent of an accepted amount. Adding
// decimals rescales both operands to the smaller exponent, so a value like
// 1e-50000000 would make every running sum tens of millions of digits long.
const maxPnLExponent = 32

// ParsePnL parses s leniently. Unparsable input, and amounts whose exponent
// lies outside ±maxPnLExponent, yield an invalid PnL.
func ParsePnL(s string) PnL {
	s = strings.TrimSpace(s)
	if s == "" {
		return PnL{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return PnL{}
	}
	if exp := d.Exponent(); exp < -maxPnLExponent || exp > maxPnLExponent {
		return PnL{}
	}
	return NewPnL(d)
}

// OrZero returns the amount, or zero when the value is missing or invalid.
func (p PnL) OrZero() decimal.Decimal {
	if !p.Valid {
		return decimal.Zero
	}
	return p.Value
}

// String renders the amount, or "" when invalid.
func (p PnL) String() string {
	if !p.Valid {
		return ""
	}
	return p.Value.String()
}

func (p *PnL) UnmarshalJSON(data []byte) error {
	*p = PnL{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = unquoted
	}
	*p = ParsePnL(s)
	return nil
}

func (p PnL) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return p.Value.MarshalJSON()
}

// timestampLayouts are tried in order when parsing updated_at.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an updated_at value. Zone-less values are taken as UTC.
// ok is false for empty or unrecognised input.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
