// Package exchange handles exchange identifier parsing and validation for
// the query parameters and configuration that select position sources.
package exchange

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Well-known venues. Any name matching nameRegex is accepted; these only
// feed the default configuration.
const (
	Binance = "binance"
	OKX     = "okx"
	Bybit   = "bybit"
	Bitget  = "bitget"
)

// Aggregate is the reserved selector for the combined view across all
// configured exchanges. It is never a valid exchange name by itself.
const Aggregate = "aggregate"

// nameRegex matches a normalised exchange identifier, e.g. "binance",
// "gate-io", "okx_spot".
var nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,31}$`)

var (
	ErrInvalidName  = errors.New("exchange: invalid exchange name")
	ErrReservedName = errors.New("exchange: reserved exchange name")
	ErrEmptyList    = errors.New("exchange: no exchanges given")
)

// Defaults returns the venues queried when no exchange list is configured.
func Defaults() []string {
	return []string{Binance, OKX, Bybit}
}

// Normalize lower-cases and validates an exchange name.
func Normalize(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == Aggregate {
		return "", fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	if !nameRegex.MatchString(n) {
		return "", fmt.Errorf("%w: %q (expected [a-z0-9][a-z0-9_.-]*, at most 32 chars)",
			ErrInvalidName, name)
	}
	return n, nil
}

// ParseList parses a comma-separated list of exchange names. Blank entries
// are skipped and duplicates dropped, keeping first-seen order.
func ParseList(s string) ([]string, error) {
	return Dedupe(strings.Split(s, ","))
}

// Dedupe normalises every name in names, skipping blanks and duplicates.
func Dedupe(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, raw := range names {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrEmptyList
	}
	return out, nil
}
