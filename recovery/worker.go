package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"gobridgetracker/metrics"
	"gobridgetracker/types"

	"github.com/andres-erbsen/clock"
	"github.com/rs/zerolog"
)

// Source is the view of the store a global analysis reads.
type Source interface {
	ActiveSnapshot() []types.BridgeTransaction
	Owners() []string
	History(ctx context.Context, owner string) ([]types.BridgeTransaction, error)
	Unpersisted() []types.BridgeTransaction
}

// Collect gathers the active set, every known owner history and the records
// waiting for a write.
func Collect(ctx context.Context, src Source) ([]types.BridgeTransaction, error) {
	all := src.ActiveSnapshot()
	var errs []error
	for _, owner := range src.Owners() {
		hist, err := src.History(ctx, owner)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, hist...)
	}
	all = append(all, src.Unpersisted()...)
	return all, errors.Join(errs...)
}

// Worker analyzes everything on an interval, publishes the counts as gauges and
// optionally runs the check status actions itself.
type Worker struct {
	analyzer  *Analyzer
	source    Source
	clock     clock.Clock
	interval  time.Duration
	autoCheck bool
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu     sync.Mutex
	last   Report
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWorker(analyzer *Analyzer, source Source, clk clock.Clock, interval time.Duration, autoCheck bool, m *metrics.Metrics, logger zerolog.Logger) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		analyzer:  analyzer,
		source:    source,
		clock:     clk,
		interval:  interval,
		autoCheck: autoCheck,
		metrics:   m,
		logger:    logger.With().Str("component", "recovery_worker").Logger(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	ticker := w.clock.Ticker(w.interval)

	w.logger.Info().Dur("interval", w.interval).Bool("auto_check_stuck", w.autoCheck).Msg("starting recovery worker")
	go func() {
		defer close(w.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
}

func (w *Worker) Stop() {
	if w.stopCh == nil {
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

// RunOnce analyzes, records gauges and returns the report.
func (w *Worker) RunOnce(ctx context.Context) Report {
	all, err := Collect(ctx, w.source)
	if err != nil {
		w.logger.Warn().Err(err).Msg("some histories could not be loaded")
	}
	report := w.analyzer.Analyze(all)
	w.metrics.SetRecovery(len(report.Failed), len(report.Stuck), len(report.Unpersisted))

	if !report.Empty() {
		w.logger.Info().
			Int("failed", len(report.Failed)).
			Int("stuck", len(report.Stuck)).
			Int("unpersisted", len(report.Unpersisted)).
			Int("actions", len(report.Actions)).
			Msg("recovery analysis")
	}

	if w.autoCheck {
		for _, action := range report.Actions {
			if action.Kind != KindCheckStatus {
				continue
			}
			_, err := action.Execute(ctx)
			w.metrics.RecordActionExecuted(string(action.Kind), err)
			if err != nil {
				w.logger.Warn().Err(err).Str("action", action.ID).Msg("automatic status check failed")
			}
		}
	}

	w.mu.Lock()
	w.last = report
	w.mu.Unlock()
	return report
}

// Last is the report of the latest run.
func (w *Worker) Last() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
