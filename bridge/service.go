// Package bridge is the entry point callers use: routes, fees, transfers,
// their history, lifecycle events and recovery.
package bridge

import (
	"context"
	"fmt"

	"gobridgetracker/events"
	"gobridgetracker/fees"
	"gobridgetracker/identity"
	"gobridgetracker/metrics"
	"gobridgetracker/monitor"
	"gobridgetracker/recovery"
	"gobridgetracker/registry"
	"gobridgetracker/store"
	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
	"github.com/rs/zerolog"
)

type Service struct {
	registry *registry.Registry
	fees     *fees.Estimator
	store    *store.Store
	monitor  *monitor.Monitor
	bus      *events.Bus
	identity identity.Provider
	analyzer *recovery.Analyzer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

type Components struct {
	Registry  *registry.Registry
	Estimator *fees.Estimator
	Store     *store.Store
	Monitor   *monitor.Monitor
	Bus       *events.Bus
	Identity  identity.Provider
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

func NewService(c Components) *Service {
	if c.Identity == nil {
		c.Identity = identity.Request{}
	}
	s := &Service{
		registry: c.Registry,
		fees:     c.Estimator,
		store:    c.Store,
		monitor:  c.Monitor,
		bus:      c.Bus,
		identity: c.Identity,
		metrics:  c.Metrics,
		logger:   c.Logger.With().Str("component", "bridge_service").Logger(),
	}
	s.analyzer = recovery.NewAnalyzer(executor{s}, c.Clock)
	return s
}

func (s *Service) Analyzer() *recovery.Analyzer {
	return s.analyzer
}

func (s *Service) SupportedChains() []types.ChainDescriptor {
	return s.registry.Chains()
}

func (s *Service) EstimateBridgeFee(ctx context.Context, source, destination int, token, amount string) (types.FeeEstimate, error) {
	return s.fees.Estimate(ctx, source, destination, token, amount)
}

// owner falls back to the identity provider when address is empty.
func (s *Service) owner(ctx context.Context, address string) (string, error) {
	if address != "" {
		return identity.NormalizeAddress(address)
	}
	return s.identity.CurrentOwner(ctx)
}

// InitiateBridge starts a transfer for owner, or for the current owner when
// owner is empty.
func (s *Service) InitiateBridge(ctx context.Context, source, destination int, token, amount, owner string) (string, error) {
	owner, err := s.owner(ctx, owner)
	if err != nil {
		return "", err
	}
	return s.store.Initiate(ctx, source, destination, token, amount, owner)
}

// TrackBridgeStatus refreshes the transaction once and returns it.
func (s *Service) TrackBridgeStatus(ctx context.Context, id string) (types.BridgeTransaction, error) {
	return s.monitor.Refresh(ctx, id)
}

func (s *Service) BridgeHistory(ctx context.Context, owner string) ([]types.BridgeTransaction, error) {
	owner, err := s.owner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.store.History(ctx, owner)
}

func (s *Service) CancelBridge(ctx context.Context, id string) error {
	return s.store.Cancel(ctx, id)
}

func (s *Service) RetryFailedBridge(ctx context.Context, id string) (string, error) {
	return s.store.RetryFailed(ctx, id)
}

func (s *Service) Subscribe(fn func(events.Event)) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

func (s *Service) Stream(buffer int) (<-chan events.Event, func()) {
	return s.bus.Stream(buffer)
}

// Recovery analyzes the history of owner. With no owner given and none known
// to the identity provider, everything the store holds is analyzed.
func (s *Service) Recovery(ctx context.Context, owner string) (recovery.Report, error) {
	if owner == "" {
		if current, err := s.identity.CurrentOwner(ctx); err == nil {
			owner = current
		}
	}
	if owner == "" {
		return s.recoveryAll(ctx)
	}

	hist, err := s.BridgeHistory(ctx, owner)
	if err != nil {
		return recovery.Report{}, err
	}
	return s.analyzer.Analyze(hist), nil
}

func (s *Service) recoveryAll(ctx context.Context) (recovery.Report, error) {
	all, err := recovery.Collect(ctx, s.store)
	if err != nil {
		s.logger.Warn().Err(err).Msg("recovery analysis without some histories")
	}
	return s.analyzer.Analyze(all), nil
}

// ExecuteAction runs the action with id from a fresh analysis of everything
// the store holds. It returns the new transaction id for retries.
func (s *Service) ExecuteAction(ctx context.Context, actionID string) (string, error) {
	report, err := s.recoveryAll(ctx)
	if err != nil {
		return "", err
	}
	action, ok := report.Action(actionID)
	if !ok {
		return "", fmt.Errorf("%w: recovery action %s", types.ErrNotFound, actionID)
	}

	result, err := action.Execute(ctx)
	s.metrics.RecordActionExecuted(string(action.Kind), err)
	if err != nil {
		s.logger.Warn().Err(err).Str("action", actionID).Msg("recovery action failed")
		return "", err
	}
	s.logger.Info().Str("action", actionID).Str("result", result).Msg("recovery action executed")
	return result, nil
}

// executor binds recovery actions to the store and the monitor.
type executor struct {
	s *Service
}

func (e executor) RetryFailed(ctx context.Context, id string) (string, error) {
	return e.s.store.RetryFailed(ctx, id)
}

func (e executor) Refresh(ctx context.Context, id string) (types.BridgeTransaction, error) {
	return e.s.monitor.Refresh(ctx, id)
}

func (e executor) RefreshAll(ctx context.Context) error {
	return e.s.monitor.RefreshAll(ctx)
}

func (e executor) Resync(ctx context.Context, id string) error {
	return e.s.store.Resync(ctx, id)
}
