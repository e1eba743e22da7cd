package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/paywall/verifier/internal/currency"
	"github.com/paywall/verifier/internal/domain"
	"github.com/paywall/verifier/internal/ingestion"
	"github.com/paywall/verifier/internal/reconciliation"
	"github.com/paywall/verifier/internal/txbuilder"
)

// sampleRates are quote-currency units per whole coin used for fiat docs.
var sampleRates = map[string]decimal.Decimal{
	"USD": decimal.RequireFromString("178.71"),
	"EUR": decimal.RequireFromString("164.20"),
}

type builtTx struct {
	Paywall domain.PaywallDoc `json:"paywall"`
	TxID    string            `json:"txid"`
	RawTx   string            `json:"raw_tx"`
	Valid   bool              `json:"valid"`
}

// Reads testdata/payment-docs.json, builds the transaction paying each doc
// and writes them, together with their own verdict, to built-txs.json.
func main() {
	baseDir := findTestdataDir()

	data, err := os.ReadFile(filepath.Join(baseDir, "payment-docs.json"))
	if err != nil {
		panic(err)
	}
	var docs []domain.PaywallDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		panic(err)
	}

	params := &chaincfg.MainNetParams
	decoder := ingestion.NewTxDecoder(params)
	verifier := reconciliation.NewVerifier(
		currency.NewFixedRates(sampleRates), decoder, currency.BaseCurrency, nil,
	)
	builder := txbuilder.New(verifier, nil, params, nil)

	ctx := context.Background()
	var out []builtTx
	for i, doc := range docs {
		raw, err := builder.Transaction(ctx, doc)
		if err != nil {
			fmt.Printf("doc %d: %v, skipped\n", i, err)
			continue
		}
		verdict, err := verifier.VerifyRaw(ctx, doc, raw)
		if err != nil {
			panic(err)
		}
		out = append(out, builtTx{
			Paywall: doc,
			TxID:    verdict.TransactionID,
			RawTx:   hex.EncodeToString(raw),
			Valid:   verdict.Valid,
		})
	}

	writeJSONFile(filepath.Join(baseDir, "built-txs.json"), out)
	fmt.Printf("Generated %d payment transactions -> built-txs.json\n", len(out))
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	// Look for the testdata directory relative to common locations.
	candidates := []string{
		"testdata",
		"./testdata",
		"../testdata",
	}
	for _, c := range candidates {
		if info, err := os.Stat(filepath.Join(c, "payment-docs.json")); err == nil && !info.IsDir() {
			return c
		}
	}
	// Fallback.
	return "testdata"
}
