package EVMRPC

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"gobridgetracker/fees"
	"gobridgetracker/types"

	"github.com/shopspring/decimal"
)

type GasPriceFunc func(ctx context.Context, chainID int) (*big.Int, error)

// GasRates scales the static network rate of a chain by its current gas price
// relative to a reference price. The result stays within [base/4, base*4].
type GasRates struct {
	base      *fees.StaticRates
	reference map[int]decimal.Decimal // gwei
	gasPrice  GasPriceFunc
}

var (
	four    = decimal.NewFromInt(4)
	quarter = decimal.RequireFromString("0.25")
)

func NewGasRates(base *fees.StaticRates, referenceGwei map[int]float64, gasPrice GasPriceFunc) *GasRates {
	ref := make(map[int]decimal.Decimal, len(referenceGwei))
	for chainID, gwei := range referenceGwei {
		if gwei > 0 {
			ref[chainID] = decimal.NewFromFloat(gwei)
		}
	}
	return &GasRates{base: base, reference: ref, gasPrice: gasPrice}
}

func (g *GasRates) NetworkFeeRate(ctx context.Context, chainID int) (decimal.Decimal, error) {
	base := g.base.Rate(chainID)
	ref, ok := g.reference[chainID]
	if !ok {
		return base, nil
	}

	price, err := g.gasPrice(ctx, chainID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gas price for chain %d: %w", chainID, err)
	}
	gwei := decimal.NewFromBigInt(price, -9)

	rate := base.Mul(gwei).Div(ref)
	if floor := base.Mul(quarter); rate.LessThan(floor) {
		return floor, nil
	}
	if ceil := base.Mul(four); rate.GreaterThan(ceil) {
		return ceil, nil
	}
	return rate, nil
}

type HeadTimeFunc func(ctx context.Context, chainID int) (time.Time, error)

// HeadConfirmations treats a transfer as confirmed on the destination once that
// chain has produced a block past the transfer's eta.
type HeadConfirmations struct {
	headTime HeadTimeFunc
}

func NewHeadConfirmations(headTime HeadTimeFunc) *HeadConfirmations {
	return &HeadConfirmations{headTime: headTime}
}

func (h *HeadConfirmations) HasDestinationConfirmation(ctx context.Context, tx *types.BridgeTransaction) (bool, error) {
	head, err := h.headTime(ctx, tx.DestinationChain)
	if err != nil {
		return false, err
	}
	return !head.Before(tx.CreatedAt.Add(tx.EstimatedDuration)), nil
}
