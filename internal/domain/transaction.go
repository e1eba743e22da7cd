package domain

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Output is one transaction output as seen by the extractor. Data-carrier
// and non-standard outputs have no destination.
type Output struct {
	Destination fn.Option[string]
	Value       fn.Option[int64]
}

// Transaction is the structured form of a transaction: its id and its
// outputs in serialisation order.
type Transaction struct {
	ID      string
	Outputs []Output
}

// PaywallDoc is the payment requirement attached to paywalled content.
// Payouts is the compact "destination:amount,destination:amount" encoding,
// with amounts denominated in Currency.
type PaywallDoc struct {
	Currency string `json:"currency"`
	Payouts  string `json:"payouts"`
}

// Verdict is the outcome of one verification call. Valid is true iff
// Discrepancies is empty.
type Verdict struct {
	TransactionID string        `json:"txid"`
	Valid         bool          `json:"valid"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}
