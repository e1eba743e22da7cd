// Package txbuilder turns a paywall doc into the outputs a payer must
// include, and into an unsigned transaction carrying them.
package txbuilder

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paywall/verifier/internal/domain"
	"github.com/paywall/verifier/internal/paymail"
)

var (
	ErrInvalidAmount  = errors.New("invalid payout amount")
	ErrInvalidAddress = errors.New("invalid payout address")
)

// ObligationSource converts a paywall doc into base-currency obligations.
type ObligationSource interface {
	Obligations(ctx context.Context, doc domain.PaywallDoc) ([]domain.Obligation, error)
}

// HandleResolver returns the output script for paying a payment handle.
type HandleResolver interface {
	Resolve(ctx context.Context, handle string, satoshis int64) ([]byte, error)
}

type Builder struct {
	source   ObligationSource
	resolver HandleResolver
	params   *chaincfg.Params
	log      *zap.Logger
}

// New creates a builder. resolver may be nil, in which case payouts to
// handles fail with paymail.ErrHandleUnresolvable.
func New(source ObligationSource, resolver HandleResolver, params *chaincfg.Params, log *zap.Logger) *Builder {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		source:   source,
		resolver: resolver,
		params:   params,
		log:      log.Named("txbuilder"),
	}
}

// Outputs returns one output per owed payout, in payout order. Amounts are
// rounded to whole satoshis; payouts that round to zero are omitted since
// nothing is owed.
func (b *Builder) Outputs(ctx context.Context, doc domain.PaywallDoc) ([]*wire.TxOut, error) {
	obligations, err := b.source.Obligations(ctx, doc)
	if err != nil {
		return nil, err
	}

	outs := make([]*wire.TxOut, 0, len(obligations))
	for _, ob := range obligations {
		sats, err := satoshis(ob.Amount)
		if err != nil {
			return nil, fmt.Errorf("payout to %s: %w", ob.Destination, err)
		}
		if sats == 0 {
			continue
		}

		script, err := b.script(ctx, ob.Destination, sats)
		if err != nil {
			return nil, err
		}
		outs = append(outs, wire.NewTxOut(sats, script))
	}

	return outs, nil
}

// Transaction serialises an input-less transaction carrying all outputs
// of doc. The payer funds and signs it.
func (b *Builder) Transaction(ctx context.Context, doc domain.PaywallDoc) ([]byte, error) {
	outs, err := b.Outputs(ctx, doc)
	if err != nil {
		return nil, err
	}

	msgTx := wire.NewMsgTx(wire.TxVersion)
	var total btcutil.Amount
	for _, out := range outs {
		msgTx.AddTxOut(out)
		total += btcutil.Amount(out.Value)
	}

	var buf bytes.Buffer
	if err := msgTx.SerializeNoWitness(&buf); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}

	b.log.Debug("built payment transaction",
		zap.Int("outputs", len(outs)),
		zap.Stringer("total", total),
		zap.String("txid", msgTx.TxHash().String()),
	)
	return buf.Bytes(), nil
}

func (b *Builder) script(ctx context.Context, dest string, sats int64) ([]byte, error) {
	if paymail.IsHandle(dest) {
		if b.resolver == nil {
			return nil, fmt.Errorf("%w: %s: no resolver", paymail.ErrHandleUnresolvable, dest)
		}
		return b.resolver.Resolve(ctx, dest, sats)
	}

	addr, err := btcutil.DecodeAddress(dest, b.params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, dest, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, dest, err)
	}
	return script, nil
}

var maxSatoshi = decimal.NewFromInt(btcutil.MaxSatoshi)

func satoshis(a domain.Amount) (int64, error) {
	d, ok := a.Decimal()
	if !ok {
		return 0, fmt.Errorf("%w: not a number", ErrInvalidAmount)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, d)
	}
	sats := d.Round(0)
	if sats.GreaterThan(maxSatoshi) {
		return 0, fmt.Errorf("%w: %s exceeds supply", ErrInvalidAmount, d)
	}
	return sats.IntPart(), nil
}
