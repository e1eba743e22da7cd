package ingestion

import (
	"github.com/paywall/verifier/internal/domain"
)

// ExtractPayments lists the value-bearing outputs of tx in output order.
// Outputs without a destination (data carriers, non-standard scripts) or
// without a positive value are skipped. Repeated destinations are kept as
// separate payments.
func ExtractPayments(tx *domain.Transaction) []domain.ObservedPayment {
	if tx == nil {
		return nil
	}

	var payments []domain.ObservedPayment
	for _, out := range tx.Outputs {
		dest := out.Destination.UnwrapOr("")
		value := out.Value.UnwrapOr(0)
		if dest == "" || value <= 0 {
			continue
		}

		payments = append(payments, domain.ObservedPayment{
			Destination: dest,
			Amount:      domain.Satoshis(value),
		})
	}

	return payments
}
