package domain

// Obligation is a payment the paywall expects, in base-currency units.
// Destination is an address or a payment handle; obligations to the same
// destination are never merged.
type Obligation struct {
	Destination string `json:"destination"`
	Amount      Amount `json:"amount"`
}

// ObservedPayment is a value-bearing output found in a transaction.
type ObservedPayment struct {
	Destination string `json:"destination"`
	Amount      Amount `json:"amount"`
}
