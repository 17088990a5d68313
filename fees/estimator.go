// Package fees computes bridge cost and duration for a route.
package fees

import (
	"context"
	"fmt"
	"time"

	"gobridgetracker/metrics"
	"gobridgetracker/registry"
	"gobridgetracker/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Options struct {
	BridgeFeeRate decimal.Decimal
	SlowDuration  time.Duration
	FastDuration  time.Duration
	QuoteTimeout  time.Duration
}

// Estimator owns its cache, no estimate is shared between instances.
type Estimator struct {
	registry *registry.Registry
	rates    RateSource
	cache    *Cache
	opts     Options
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewEstimator(reg *registry.Registry, rates RateSource, cache *Cache, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Estimator {
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 3 * time.Second
	}
	return &Estimator{
		registry: reg,
		rates:    rates,
		cache:    cache,
		opts:     opts,
		metrics:  m,
		logger:   logger.With().Str("component", "fee_estimator").Logger(),
	}
}

// ParseAmount accepts a strictly positive decimal string.
func ParseAmount(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", types.ErrInvalidAmount, amount)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", types.ErrInvalidAmount, amount)
	}
	return d, nil
}

// Estimate quotes the fee for moving amount of token from source to destination.
// A quote that times out fails with types.ErrTransientEstimation, it never
// falls back to an expired estimate.
func (e *Estimator) Estimate(ctx context.Context, source, destination int, token, amount string) (types.FeeEstimate, error) {
	if err := e.registry.ValidateRoute(source, destination, token); err != nil {
		return types.FeeEstimate{}, err
	}
	amt, err := ParseAmount(amount)
	if err != nil {
		return types.FeeEstimate{}, err
	}

	key := cacheKey(source, destination, token, amt)
	if e.cache != nil {
		if est, ok := e.cache.Get(key); ok {
			e.metrics.RecordFeeCache(true)
			return est, nil
		}
		e.metrics.RecordFeeCache(false)
	}

	qctx, cancel := context.WithTimeout(ctx, e.opts.QuoteTimeout)
	defer cancel()
	rate, err := e.rates.NetworkFeeRate(qctx, source)
	if err == nil && qctx.Err() != nil {
		err = qctx.Err()
	}
	if err != nil {
		e.metrics.RecordFeeQuoteError(source)
		e.logger.Warn().Err(err).Int("chain", source).Msg("network fee quote failed")
		return types.FeeEstimate{}, fmt.Errorf("%w: chain %d: %w", types.ErrTransientEstimation, source, err)
	}

	networkFee := amt.Mul(rate)
	bridgeFee := amt.Mul(e.opts.BridgeFeeRate)
	est := types.FeeEstimate{
		NetworkFee:        networkFee,
		BridgeFee:         bridgeFee,
		TotalFee:          networkFee.Add(bridgeFee),
		EstimatedDuration: e.duration(source, destination),
		Token:             token,
	}

	if e.cache != nil {
		e.cache.Add(key, est)
	}
	return est, nil
}

func (e *Estimator) duration(source, destination int) time.Duration {
	if e.registry.IsSlow(source, destination) {
		return e.opts.SlowDuration
	}
	return e.opts.FastDuration
}
