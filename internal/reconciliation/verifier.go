package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paywall/verifier/internal/domain"
	"github.com/paywall/verifier/internal/ingestion"
	"github.com/paywall/verifier/internal/metrics"
	"github.com/paywall/verifier/internal/paymail"
)

var (
	// ErrRateLookupFailed wraps any failure to obtain a usable conversion rate.
	ErrRateLookupFailed = errors.New("rate lookup failed")

	// ErrTransactionParseFailed wraps any failure to structure a raw transaction.
	ErrTransactionParseFailed = errors.New("transaction parse failed")
)

// RateSource returns the conversion rate for currency: quote-currency units
// per base unit. Obligation amounts are divided by it.
type RateSource interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// TxStructurer turns raw transaction bytes into a domain transaction.
type TxStructurer interface {
	Decode(raw []byte) (*domain.Transaction, error)
}

// Verifier decides whether a transaction satisfies a paywall doc. It holds
// no per-call state and may be shared between goroutines.
type Verifier struct {
	rates        RateSource
	decoder      TxStructurer
	baseCurrency string
	log          *zap.Logger
}

// NewVerifier creates a verifier. Amounts in docs whose currency equals
// baseCurrency are used as-is; any other currency is converted through rates.
func NewVerifier(rates RateSource, decoder TxStructurer, baseCurrency string, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		rates:        rates,
		decoder:      decoder,
		baseCurrency: baseCurrency,
		log:          log.Named("verify"),
	}
}

// VerifyRaw structures raw and then verifies it against doc.
func (v *Verifier) VerifyRaw(ctx context.Context, doc domain.PaywallDoc, raw []byte) (*domain.Verdict, error) {
	tx, err := v.decoder.Decode(raw)
	if err != nil {
		metrics.IncVerification(metrics.ResultError)
		return nil, fmt.Errorf("%w: %w", ErrTransactionParseFailed, err)
	}
	return v.Verify(ctx, doc, tx)
}

// Verify checks tx against doc. Rate lookup failures abort the call; problems
// in the payouts or the outputs are reported as discrepancies in the verdict.
func (v *Verifier) Verify(ctx context.Context, doc domain.PaywallDoc, tx *domain.Transaction) (*domain.Verdict, error) {
	if tx == nil {
		metrics.IncVerification(metrics.ResultError)
		return nil, fmt.Errorf("%w: no transaction", ErrTransactionParseFailed)
	}

	obligations, err := v.Obligations(ctx, doc)
	if err != nil {
		metrics.IncVerification(metrics.ResultError)
		return nil, err
	}
	for _, ob := range obligations {
		// Handles would need a directory lookup to learn their address,
		// which cannot be checked against a past transaction yet. They are
		// matched literally and so report NO_MATCHING_OUTPUT.
		if paymail.IsHandle(ob.Destination) {
			v.log.Debug("payment handle matched literally", zap.String("handle", ob.Destination))
		}
	}

	observed := ingestion.ExtractPayments(tx)
	valid, discs := Reconcile(obligations, observed)

	verdict := &domain.Verdict{
		TransactionID: tx.ID,
		Valid:         valid,
		Discrepancies: discs,
	}
	if verdict.Discrepancies == nil {
		verdict.Discrepancies = []domain.Discrepancy{}
	}

	v.record(verdict, len(obligations), len(observed))
	return verdict, nil
}

// Obligations converts the payouts of doc into base-currency obligations.
func (v *Verifier) Obligations(ctx context.Context, doc domain.PaywallDoc) ([]domain.Obligation, error) {
	rate, err := v.conversionRate(ctx, doc.Currency)
	if err != nil {
		return nil, err
	}
	return ingestion.ParsePayoutSpec(doc.Payouts, rate), nil
}

func (v *Verifier) conversionRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if currency == v.baseCurrency {
		return domain.UnitRate, nil
	}

	rate, err := v.rates.Rate(ctx, currency)
	if err != nil {
		metrics.IncRateLookup("failed")
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrRateLookupFailed, currency, err)
	}
	if !rate.IsPositive() {
		metrics.IncRateLookup("failed")
		return decimal.Zero, fmt.Errorf("%w: %s: non-positive rate %s", ErrRateLookupFailed, currency, rate)
	}

	metrics.IncRateLookup("ok")
	v.log.Debug("conversion rate", zap.String("currency", currency), zap.Stringer("rate", rate))
	return rate, nil
}

func (v *Verifier) record(verdict *domain.Verdict, obligations, observed int) {
	result := metrics.ResultValid
	if !verdict.Valid {
		result = metrics.ResultInvalid
	}
	metrics.IncVerification(result)
	for _, d := range verdict.Discrepancies {
		metrics.IncDiscrepancy(string(d.Reason))
	}

	v.log.Info("verified transaction",
		zap.String("txid", verdict.TransactionID),
		zap.Bool("valid", verdict.Valid),
		zap.Int("obligations", obligations),
		zap.Int("observed", observed),
		zap.Int("discrepancies", len(verdict.Discrepancies)),
	)
}
