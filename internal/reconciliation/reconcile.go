package reconciliation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/paywall/verifier/internal/domain"
)

// Tolerance is the largest allowed |expected-observed| / max(expected, observed).
var Tolerance = decimal.RequireFromString("0.1")

// Reconcile checks every obligation against the observed payments and
// returns one discrepancy per failing obligation, in obligation order.
//
// Each obligation is matched against the first payment with the same
// destination (exact, case-sensitive). Matching does not consume payments:
// two obligations to one destination are both compared with the same first
// payment, so a single output can satisfy both.
func Reconcile(obligations []domain.Obligation, observed []domain.ObservedPayment) (bool, []domain.Discrepancy) {
	var discs []domain.Discrepancy

	for _, ob := range obligations {
		payment, ok := firstMatch(observed, ob.Destination)
		if !ok {
			// Nothing owed, nothing to find.
			if ob.Amount.IsPositive() {
				discs = append(discs, domain.Discrepancy{
					Destination: ob.Destination,
					Expected:    ob.Amount,
					Reason:      domain.ReasonNoMatchingOutput,
					Description: fmt.Sprintf("no output found paying %s", ob.Destination),
				})
			}
			continue
		}

		if !WithinTolerance(ob.Amount, payment.Amount) {
			p := payment
			discs = append(discs, domain.Discrepancy{
				Destination: ob.Destination,
				Expected:    ob.Amount,
				Observed:    &p,
				Reason:      domain.ReasonAmountMismatch,
				Description: fmt.Sprintf(
					"output to %s pays %s, expected %s (difference greater than %s%%)",
					ob.Destination, payment.Amount, ob.Amount, Tolerance.Shift(2),
				),
			})
		}
	}

	return len(discs) == 0, discs
}

// WithinTolerance reports whether two amounts agree within Tolerance. It is
// symmetric in its arguments. Invalid amounts never agree; two zeros agree.
func WithinTolerance(a, b domain.Amount) bool {
	diff, ok := a.Sub(b).Abs().Decimal()
	if !ok {
		return false
	}
	limit, ok := a.Max(b).Decimal()
	if !ok {
		return false
	}
	if !limit.IsPositive() {
		return diff.IsZero()
	}
	return diff.LessThanOrEqual(limit.Mul(Tolerance))
}

func firstMatch(observed []domain.ObservedPayment, dest string) (domain.ObservedPayment, bool) {
	for _, p := range observed {
		if p.Destination == dest {
			return p, true
		}
	}
	return domain.ObservedPayment{}, false
}
