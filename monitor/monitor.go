// Package monitor advances bridge transactions through their lifecycle on a
// fixed cadence.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gobridgetracker/metrics"
	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	DEFAULT_CONFIRM_AFTER = 0.3 // of eta, source side inclusion
	FAULT_AFTER           = 1.5 // of eta, eligible for destination faults
)

type Store interface {
	ActiveSnapshot() []types.BridgeTransaction
	Get(ctx context.Context, id string) (types.BridgeTransaction, error)
	Transition(ctx context.Context, id string, from, to types.Status, mutate func(tx *types.BridgeTransaction)) (types.BridgeTransaction, error)
}

type Options struct {
	PollInterval time.Duration
	ConfirmAfter float64
}

type Monitor struct {
	store         Store
	confirmations ConfirmationSource
	faults        FaultSource
	clock         clock.Clock
	opts          Options
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	sweepMu sync.Mutex // one sweep at a time
	running *atomic.Bool
	ticks   *atomic.Uint64
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(store Store, confirmations ConfirmationSource, faults FaultSource, clk clock.Clock, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Monitor {
	if confirmations == nil {
		confirmations = ETAConfirmations{}
	}
	if faults == nil {
		faults = NoFaults{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ConfirmAfter <= 0 || opts.ConfirmAfter >= 1 {
		opts.ConfirmAfter = DEFAULT_CONFIRM_AFTER
	}
	return &Monitor{
		store:         store,
		confirmations: confirmations,
		faults:        faults,
		clock:         clk,
		opts:          opts,
		metrics:       m,
		logger:        logger.With().Str("component", "lifecycle_monitor").Logger(),
		running:       atomic.NewBool(false),
		ticks:         atomic.NewUint64(0),
	}
}

// Start runs Tick every poll interval until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CAS(false, true) {
		return errors.New("lifecycle monitor already running")
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	m.logger.Info().Dur("poll_interval", m.opts.PollInterval).Msg("starting lifecycle monitor")
	ticker := m.clock.Ticker(m.opts.PollInterval)

	go func() {
		defer close(m.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info().Msg("context cancelled, stopping lifecycle monitor")
				return
			case <-m.stopCh:
				m.logger.Info().Msg("stop signal received, stopping lifecycle monitor")
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for the sweep in flight.
func (m *Monitor) Stop() {
	if !m.running.CAS(true, false) {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Ticks counts completed sweeps.
func (m *Monitor) Ticks() uint64 {
	return m.ticks.Load()
}

// Tick advances every active transaction once. A failing record is logged and
// skipped. It returns the number of records that failed. A Tick called while a
// sweep is in flight, from a subscriber for instance, returns 0 at once.
func (m *Monitor) Tick(ctx context.Context) int {
	if !m.sweepMu.TryLock() {
		m.logger.Debug().Msg("sweep already in flight")
		return 0
	}
	defer m.sweepMu.Unlock()

	start := time.Now()
	snapshot := m.store.ActiveSnapshot()
	failed := 0
	for i := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if err := m.advance(ctx, snapshot[i]); err != nil {
			failed++
			m.logger.Warn().Err(err).Str("id", snapshot[i].ID).Msg("refresh failed, skipping")
		}
	}

	m.ticks.Inc()
	m.metrics.RecordTick(time.Since(start).Seconds(), failed)
	m.logger.Debug().Int("active", len(snapshot)).Int("errors", failed).Dur("duration", time.Since(start)).Msg("sweep done")
	return failed
}

// Refresh advances one transaction out of cadence and returns its current state.
// It may run alongside a sweep, transitions on the same record are settled by
// the store.
func (m *Monitor) Refresh(ctx context.Context, id string) (types.BridgeTransaction, error) {
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return types.BridgeTransaction{}, err
	}
	if err := m.advance(ctx, tx); err != nil {
		return types.BridgeTransaction{}, err
	}
	return m.store.Get(ctx, id)
}

// RefreshAll runs a sweep out of cadence.
func (m *Monitor) RefreshAll(ctx context.Context) error {
	if failed := m.Tick(ctx); failed > 0 {
		return fmt.Errorf("%d transactions could not be refreshed", failed)
	}
	return nil
}

// advance applies every transition tx is due for, so one call may take a
// transaction from pending to completed.
func (m *Monitor) advance(ctx context.Context, tx types.BridgeTransaction) error {
	if tx.Status.Terminal() {
		return nil
	}
	elapsed := tx.Elapsed(m.clock.Now())
	eta := tx.EstimatedDuration

	var err error
	if tx.Status == types.StatusPending && elapsed > scale(eta, m.opts.ConfirmAfter) {
		if tx, err = m.transition(ctx, tx, types.StatusConfirmed, nil); err != nil {
			return err
		}
	}

	if tx.Status == types.StatusConfirmed && elapsed > eta {
		done, err := m.confirmations.HasDestinationConfirmation(ctx, &tx)
		if err != nil {
			return fmt.Errorf("destination confirmation: %w", err)
		}
		if done {
			if tx, err = m.transition(ctx, tx, types.StatusCompleted, func(next *types.BridgeTransaction) {
				next.DestinationTxHash = destinationTxHash(next)
			}); err != nil {
				return err
			}
		}
	}

	if !tx.Status.Terminal() && elapsed > scale(eta, FAULT_AFTER) && m.faults.ShouldFail(&tx) {
		if _, err = m.transition(ctx, tx, types.StatusFailed, func(next *types.BridgeTransaction) {
			next.FailureReason = types.FailureDestinationFault
		}); err != nil {
			return err
		}
	}
	return nil
}

// transition keeps going on persistence failures, the store already keeps the
// new status and marks the record. A record moved meanwhile by someone else,
// a cancel or a concurrent refresh, continues from its current state.
func (m *Monitor) transition(ctx context.Context, tx types.BridgeTransaction, to types.Status, mutate func(*types.BridgeTransaction)) (types.BridgeTransaction, error) {
	next, err := m.store.Transition(ctx, tx.ID, tx.Status, to, mutate)
	if err != nil && errors.Is(err, types.ErrPersistence) && next.Status == to {
		m.logger.Error().Err(err).Str("id", tx.ID).Msg("transition not persisted")
		return next, nil
	}
	if err != nil && errors.Is(err, types.ErrInvalidState) && next.ID == tx.ID && next.Status != tx.Status {
		m.logger.Debug().Str("id", tx.ID).Str("status", string(next.Status)).Msg("record moved concurrently")
		return next, nil
	}
	if err != nil {
		return tx, err
	}
	return next, nil
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func destinationTxHash(tx *types.BridgeTransaction) string {
	return crypto.Keccak256Hash([]byte(tx.ID + ":" + strconv.Itoa(tx.DestinationChain))).Hex()
}
