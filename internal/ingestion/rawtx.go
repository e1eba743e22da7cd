package ingestion

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/paywall/verifier/internal/domain"
)

// ErrMalformedTransaction is returned when raw bytes do not decode to a
// complete transaction.
var ErrMalformedTransaction = errors.New("malformed transaction")

// TxDecoder turns serialised transactions into domain transactions.
type TxDecoder struct {
	params *chaincfg.Params
}

// NewTxDecoder returns a decoder that renders output addresses for the
// given network. A nil params selects mainnet.
func NewTxDecoder(params *chaincfg.Params) *TxDecoder {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &TxDecoder{params: params}
}

// Decode parses a legacy (non-witness) serialised transaction. Every byte
// of raw must belong to the transaction.
func (d *TxDecoder) Decode(raw []byte) (*domain.Transaction, error) {
	var msgTx wire.MsgTx
	r := bytes.NewReader(raw)
	if err := msgTx.DeserializeNoWitness(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.Len())
	}

	tx := &domain.Transaction{
		ID:      msgTx.TxHash().String(),
		Outputs: make([]domain.Output, 0, len(msgTx.TxOut)),
	}
	for _, out := range msgTx.TxOut {
		tx.Outputs = append(tx.Outputs, domain.Output{
			Destination: d.destination(out.PkScript),
			Value:       fn.Some(out.Value),
		})
	}

	return tx, nil
}

// DecodeHex is Decode for a hex string.
func (d *TxDecoder) DecodeHex(s string) (*domain.Transaction, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	return d.Decode(raw)
}

// destination returns the single address a script pays to. Multisig and
// non-standard scripts have no single destination.
func (d *TxDecoder) destination(pkScript []byte) fn.Option[string] {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, d.params)
	if err != nil || len(addrs) != 1 {
		return fn.None[string]()
	}
	return fn.Some(addrs[0].EncodeAddress())
}
