package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lightningnetwork/lnd/fn/v2"
	"go.uber.org/zap"

	"github.com/paywall/verifier/internal/domain"
	"github.com/paywall/verifier/internal/paymail"
	"github.com/paywall/verifier/internal/reconciliation"
	"github.com/paywall/verifier/internal/repository"
	"github.com/paywall/verifier/internal/txbuilder"
)

const maxBodyBytes = 4 << 20

// Verifier is the verification entry point.
type Verifier interface {
	Verify(ctx context.Context, doc domain.PaywallDoc, tx *domain.Transaction) (*domain.Verdict, error)
	VerifyRaw(ctx context.Context, doc domain.PaywallDoc, raw []byte) (*domain.Verdict, error)
}

// PaymentBuilder builds the transaction a payer should fund.
type PaymentBuilder interface {
	Transaction(ctx context.Context, doc domain.PaywallDoc) ([]byte, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	verifier Verifier
	builder  PaymentBuilder
	verdicts *repository.VerdictRepo
	log      *zap.Logger
	now      func() time.Time
}

type verifyRequest struct {
	Paywall domain.PaywallDoc `json:"paywall"`
	RawTx   string            `json:"raw_tx,omitempty"`
	Tx      *txPayload        `json:"tx,omitempty"`
}

type txPayload struct {
	ID      string          `json:"id"`
	Outputs []outputPayload `json:"outputs"`
}

type outputPayload struct {
	Address *string `json:"address"`
	Value   *int64  `json:"value"`
}

func (p *txPayload) transaction() *domain.Transaction {
	tx := &domain.Transaction{
		ID:      p.ID,
		Outputs: make([]domain.Output, 0, len(p.Outputs)),
	}
	for _, o := range p.Outputs {
		tx.Outputs = append(tx.Outputs, domain.Output{
			Destination: fn.OptionFromPtr(o.Address),
			Value:       fn.OptionFromPtr(o.Value),
		})
	}
	return tx
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parseBool(s string) *bool {
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}

// statusFor maps verification and build failures to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reconciliation.ErrRateLookupFailed),
		errors.Is(err, paymail.ErrHandleUnresolvable):
		return http.StatusBadGateway
	case errors.Is(err, reconciliation.ErrTransactionParseFailed),
		errors.Is(err, txbuilder.ErrInvalidAmount),
		errors.Is(err, txbuilder.ErrInvalidAddress),
		errors.Is(err, paymail.ErrInvalidHandle):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- Verify ---

func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if (req.RawTx == "") == (req.Tx == nil) {
		h.writeError(w, http.StatusBadRequest, "exactly one of raw_tx and tx is required")
		return
	}

	var (
		verdict *domain.Verdict
		err     error
	)
	if req.Tx != nil {
		verdict, err = h.verifier.Verify(r.Context(), req.Paywall, req.Tx.transaction())
	} else {
		raw, decErr := hex.DecodeString(req.RawTx)
		if decErr != nil {
			h.writeError(w, http.StatusUnprocessableEntity,
				reconciliation.ErrTransactionParseFailed.Error()+": raw_tx is not hex")
			return
		}
		verdict, err = h.verifier.VerifyRaw(r.Context(), req.Paywall, raw)
	}
	if err != nil {
		h.log.Info("verification failed", zap.Error(err))
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	if h.verdicts != nil {
		rec := repository.NewVerdictRecord(req.Paywall, verdict, h.now())
		if err := h.verdicts.Insert(rec); err != nil {
			// The verdict stands even if the audit write fails.
			h.log.Warn("record verdict", zap.String("txid", verdict.TransactionID), zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, verdict)
}

// --- PaymentOutput ---

func (h *Handlers) PaymentOutput(w http.ResponseWriter, r *http.Request) {
	var doc domain.PaywallDoc
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	raw, err := h.builder.Transaction(r.Context(), doc)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"raw_tx": hex.EncodeToString(raw),
	})
}

// --- ListVerdicts ---

func (h *Handlers) ListVerdicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.VerdictFilter{
		Valid: parseBool(q.Get("valid")),
		From:  parseTime(q.Get("from")),
		To:    parseTime(q.Get("to")),
		Page:  parseIntDefault(q.Get("page"), 1),
		Limit: parseIntDefault(q.Get("limit"), 50),
	}

	recs, total, err := h.verdicts.List(filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []repository.VerdictRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"verdicts": recs,
		"total":    total,
		"page":     filter.Page,
		"limit":    filter.Limit,
	})
}

// --- GetVerdicts ---

func (h *Handlers) GetVerdicts(w http.ResponseWriter, r *http.Request) {
	txid := chi.URLParam(r, "txid")
	if txid == "" {
		h.writeError(w, http.StatusBadRequest, "txid is required")
		return
	}

	recs, err := h.verdicts.GetByTransactionID(txid)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no verdicts for transaction")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"txid":     txid,
		"verdicts": recs,
	})
}

// --- GetDiscrepancySummary ---

func (h *Handlers) GetDiscrepancySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.verdicts.GetSummary()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
