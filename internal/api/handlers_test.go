package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/paywall/verifier/internal/currency"
	"github.com/paywall/verifier/internal/domain"
	"github.com/paywall/verifier/internal/ingestion"
	"github.com/paywall/verifier/internal/reconciliation"
	"github.com/paywall/verifier/internal/repository"
	"github.com/paywall/verifier/internal/txbuilder"
)

const (
	addrA = "1HgUejUeEi1as5tqeP1QvcrJumN5A97mts"
	addrB = "1Z1HDmB12inMu5svMeA9YuELZtcqAczQA"

	// One input; outputs: data carrier, addrB 5596, addrA 50362, and
	// 2152635 to a third address.
	sampleRawTx = "0100000001000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f0000000000ffffffff0400000000000000000a006a0770617977616c6cdc150000000000001976a914060d8b52229ce228cffd71c5d5ff8c6fd6c409ad88acbac40000000000001976a914b6f9510af68f454c80a7e410c5d55e6a77c6c2d488acbbd82000000000001976a91466b443052ed71913bb5eb847843e9dfd1aa42b4c88ac00000000"
	sampleTxID  = "270972c0c42efea11fe2f797df696679bfcb492298c8ca07bf362b289427f088"

	// Input-less transaction paying addrA 50009 and addrB 5201.
	sampleBuiltTx = "01000000000259c30000000000001976a914b6f9510af68f454c80a7e410c5d55e6a77c6c2d488ac51140000000000001976a914060d8b52229ce228cffd71c5d5ff8c6fd6c409ad88ac00000000"
)

func newTestRouter(t *testing.T, withAudit bool) http.Handler {
	t.Helper()

	rates := currency.NewFixedRates(map[string]decimal.Decimal{
		"USD": decimal.RequireFromString("178.71"),
	})
	verifier := reconciliation.NewVerifier(rates, ingestion.NewTxDecoder(nil), currency.BaseCurrency, nil)
	builder := txbuilder.New(verifier, nil, nil, nil)

	var verdicts *repository.VerdictRepo
	if withAudit {
		db, err := repository.InitDB(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		verdicts = repository.NewVerdictRepo(db)
	}

	return NewRouter(verifier, builder, verdicts, nil)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeVerdict(t *testing.T, rec *httptest.ResponseRecorder) domain.Verdict {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v domain.Verdict
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestVerifyRawTx(t *testing.T) {
	h := newTestRouter(t, true)

	rec := do(t, h, http.MethodPost, "/api/v1/verify", map[string]any{
		"paywall": map[string]string{"currency": "USD", "payouts": addrA + ":0.09," + addrB + ":0.01"},
		"raw_tx":  sampleRawTx,
	})
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	v := decodeVerdict(t, rec)
	require.Equal(t, sampleTxID, v.TransactionID)
	require.True(t, v.Valid)
	require.Empty(t, v.Discrepancies)

	rec = do(t, h, http.MethodGet, "/api/v1/verdicts/"+sampleTxID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		TxID     string                     `json:"txid"`
		Verdicts []repository.VerdictRecord `json:"verdicts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, sampleTxID, got.TxID)
	require.Len(t, got.Verdicts, 1)
	require.Equal(t, "USD", got.Verdicts[0].Currency)
	require.True(t, got.Verdicts[0].Valid)
}

func TestVerifyStructuredTx(t *testing.T) {
	h := newTestRouter(t, true)

	rec := do(t, h, http.MethodPost, "/api/v1/verify", map[string]any{
		"paywall": map[string]string{"currency": "BSV", "payouts": addrA + ":100," + addrB + ":5"},
		"tx": map[string]any{
			"id": "structured",
			"outputs": []map[string]any{
				{"value": 0},
				{"address": addrA, "value": 104},
			},
		},
	})

	v := decodeVerdict(t, rec)
	require.Equal(t, "structured", v.TransactionID)
	require.False(t, v.Valid)
	require.Len(t, v.Discrepancies, 1)
	require.Equal(t, addrB, v.Discrepancies[0].Destination)
	require.Equal(t, domain.ReasonNoMatchingOutput, v.Discrepancies[0].Reason)
	require.True(t, v.Discrepancies[0].Expected.Equal(domain.ParseAmount("5")))
	require.Nil(t, v.Discrepancies[0].Observed)
}

func TestVerifyErrors(t *testing.T) {
	usd := map[string]string{"currency": "USD", "payouts": addrA + ":1"}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"no transaction", map[string]any{"paywall": usd}, http.StatusBadRequest},
		{"both transactions", map[string]any{
			"paywall": usd, "raw_tx": sampleRawTx, "tx": map[string]any{"id": "x"},
		}, http.StatusBadRequest},
		{"raw_tx not hex", map[string]any{"paywall": usd, "raw_tx": "zz"}, http.StatusUnprocessableEntity},
		{"raw_tx truncated", map[string]any{"paywall": usd, "raw_tx": sampleRawTx[:40]}, http.StatusUnprocessableEntity},
		{"unsupported currency", map[string]any{
			"paywall": map[string]string{"currency": "JPY", "payouts": addrA + ":1"},
			"raw_tx":  sampleRawTx,
		}, http.StatusBadGateway},
	}

	h := newTestRouter(t, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/verify", tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestPaymentOutput(t *testing.T) {
	h := newTestRouter(t, false)

	rec := do(t, h, http.MethodPost, "/api/v1/payment-output", domain.PaywallDoc{
		Currency: "BSV",
		Payouts:  addrA + ":50009," + addrB + ":5201",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, sampleBuiltTx, body["raw_tx"])

	rec = do(t, h, http.MethodPost, "/api/v1/payment-output", domain.PaywallDoc{
		Currency: "BSV",
		Payouts:  "nowhere:10",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/payment-output", domain.PaywallDoc{
		Currency: "BSV",
		Payouts:  "alice@example.com:10",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	h := newTestRouter(t, true)

	rec := do(t, h, http.MethodGet, "/api/v1/verdicts/"+sampleTxID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, payouts := range []string{
		addrA + ":50362",
		addrA + ":1," + addrB + ":1",
	} {
		rec := do(t, h, http.MethodPost, "/api/v1/verify", map[string]any{
			"paywall": map[string]string{"currency": "BSV", "payouts": payouts},
			"raw_tx":  sampleRawTx,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/verdicts?valid=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Verdicts []repository.VerdictRecord `json:"verdicts"`
		Total    int                        `json:"total"`
		Page     int                        `json:"page"`
		Limit    int                        `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Total)
	require.Equal(t, 1, list.Page)
	require.Equal(t, 50, list.Limit)
	require.Len(t, list.Verdicts, 1)
	require.Equal(t, 2, list.Verdicts[0].DiscrepancyCount)

	rec = do(t, h, http.MethodGet, "/api/v1/discrepancies/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary repository.DiscrepancySummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	require.Equal(t, 2, summary.Verdicts)
	require.Equal(t, 1, summary.ValidVerdicts)
	require.Equal(t, map[string]int{string(domain.ReasonAmountMismatch): 2}, summary.ByReason)
}

func TestAuditEndpointsDisabled(t *testing.T) {
	h := newTestRouter(t, false)

	rec := do(t, h, http.MethodGet, "/api/v1/discrepancies/summary", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestRouter(t, false)

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())

	do(t, h, http.MethodPost, "/api/v1/verify", map[string]any{
		"paywall": map[string]string{"currency": "BSV", "payouts": addrA + ":50362"},
		"raw_tx":  sampleRawTx,
	})

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "paywall_verifications_total"))
}
