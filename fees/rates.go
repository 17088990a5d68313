package fees

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RateSource quotes the network fee rate, as a fraction of the amount, for a
// source chain. Implementations doing I/O must honor ctx.
type RateSource interface {
	NetworkFeeRate(ctx context.Context, chainID int) (decimal.Decimal, error)
}

// StaticRates is a fixed per-chain table. Chains absent from the table get the
// conservative fallback rate.
type StaticRates struct {
	rates    map[int]decimal.Decimal
	fallback decimal.Decimal
}

func NewStaticRates(rates map[int]decimal.Decimal, fallback decimal.Decimal) *StaticRates {
	copied := make(map[int]decimal.Decimal, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return &StaticRates{rates: copied, fallback: fallback}
}

// ParseStaticRates builds a table from the string form kept in configuration.
func ParseStaticRates(rates map[int]string, fallback string) (*StaticRates, error) {
	fb, err := decimal.NewFromString(fallback)
	if err != nil {
		return nil, fmt.Errorf("default rate %q: %w", fallback, err)
	}
	parsed := make(map[int]decimal.Decimal, len(rates))
	for chainID, s := range rates {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("rate for chain %d %q: %w", chainID, s, err)
		}
		parsed[chainID] = d
	}
	return NewStaticRates(parsed, fb), nil
}

func (s *StaticRates) NetworkFeeRate(_ context.Context, chainID int) (decimal.Decimal, error) {
	return s.Rate(chainID), nil
}

func (s *StaticRates) Rate(chainID int) decimal.Decimal {
	if r, ok := s.rates[chainID]; ok {
		return r
	}
	return s.fallback
}
