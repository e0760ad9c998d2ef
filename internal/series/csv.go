package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/quantdash/overview-engine/internal/model"
)

// Kind selects which of the two series an export covers.
type Kind string

const (
	KindEquity  Kind = "equity"
	KindWinRate Kind = "win_rate"
)

// ErrUnknownKind is returned for an export kind other than equity or win_rate.
var ErrUnknownKind = errors.New("series: unknown export kind")

// ParseKind validates an export kind. The empty string means equity.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindEquity:
		return KindEquity, nil
	case KindWinRate:
		return KindWinRate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// WriteCSV writes one `date,value` row per point under a header row.
// Win rates are rendered with two decimals; equity keeps full precision.
func WriteCSV(w io.Writer, s model.Series, kind Kind) error {
	cw := csv.NewWriter(w)

	switch kind {
	case KindEquity:
		if err := cw.Write([]string{"date", string(KindEquity)}); err != nil {
			return err
		}
		for _, p := range s.Equity {
			if err := cw.Write([]string{p.Date, p.Equity.String()}); err != nil {
				return err
			}
		}
	case KindWinRate:
		if err := cw.Write([]string{"date", string(KindWinRate)}); err != nil {
			return err
		}
		for _, p := range s.WinRate {
			if err := cw.Write([]string{p.Date, p.WinRate.StringFixed(2)}); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	cw.Flush()
	return cw.Error()
}
