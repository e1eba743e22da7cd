package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// BaseCurrency is the native currency amounts are normalised to.
	BaseCurrency = "BSV"

	// SatoshisPerCoin converts whole-coin quotes into per-satoshi rates.
	SatoshisPerCoin = 100_000_000
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidRate         = errors.New("invalid rate")
)

var satoshisPerCoin = decimal.NewFromInt(SatoshisPerCoin)

// PerSatoshi turns a quote for one whole coin into a quote per satoshi.
func PerSatoshi(perCoin decimal.Decimal) decimal.Decimal {
	return perCoin.Div(satoshisPerCoin)
}

// FixedRates serves rates from a static table of quote-currency units per
// whole coin. It is used in offline mode and tests.
type FixedRates struct {
	perCoin map[string]decimal.Decimal
}

// NewFixedRates copies table, keyed by upper-case currency code.
func NewFixedRates(table map[string]decimal.Decimal) *FixedRates {
	f := &FixedRates{perCoin: make(map[string]decimal.Decimal, len(table))}
	for code, rate := range table {
		f.perCoin[strings.ToUpper(code)] = rate
	}
	return f
}

// ParseFixedRates reads a table in the form "USD=45.10,EUR=41.7".
func ParseFixedRates(s string) (*FixedRates, error) {
	table := make(map[string]decimal.Decimal)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, literal, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("rate entry %q: missing '='", entry)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(literal))
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", entry, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate entry %q: %w", entry, ErrInvalidRate)
		}
		table[strings.TrimSpace(code)] = rate
	}
	return NewFixedRates(table), nil
}

// Rate returns quote-currency units per satoshi.
func (f *FixedRates) Rate(_ context.Context, currency string) (decimal.Decimal, error) {
	rate, ok := f.perCoin[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return PerSatoshi(rate), nil
}
