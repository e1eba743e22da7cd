package domain

type ReasonCode string

const (
	ReasonNoMatchingOutput ReasonCode = "NO_MATCHING_OUTPUT"
	ReasonAmountMismatch   ReasonCode = "AMOUNT_MISMATCH"
)

// Discrepancy describes one obligation the transaction failed to satisfy.
// Observed is nil for NO_MATCHING_OUTPUT.
type Discrepancy struct {
	Destination string           `json:"destination"`
	Expected    Amount           `json:"expected"`
	Observed    *ObservedPayment `json:"observed,omitempty"`
	Reason      ReasonCode       `json:"reason"`
	Description string           `json:"description"`
}
