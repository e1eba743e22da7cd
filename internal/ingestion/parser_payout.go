package ingestion

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paywall/verifier/internal/domain"
)

// ParsePayoutSpec parses the compact paywall payout encoding into
// obligations, dividing every amount by rate to express it in base units.
// Pass domain.UnitRate when the payouts are already in the base currency.
//
// Expected format:
//
//	destination:amount,destination:amount,...
//
// Destinations are not validated here; a malformed one simply never
// matches an output. An amount that is missing or not numeric becomes an
// invalid amount and fails the later comparison.
func ParsePayoutSpec(spec string, rate decimal.Decimal) []domain.Obligation {
	if strings.TrimSpace(spec) == "" {
		return nil
	}

	entries := strings.Split(spec, ",")
	obligations := make([]domain.Obligation, 0, len(entries))
	for _, entry := range entries {
		// Fields after the amount are ignored.
		fields := strings.Split(entry, ":")
		amount := domain.InvalidAmount()
		if len(fields) > 1 {
			amount = domain.ParseAmount(fields[1]).Div(rate)
		}

		obligations = append(obligations, domain.Obligation{
			Destination: strings.TrimSpace(fields[0]),
			Amount:      amount,
		})
	}

	return obligations
}
