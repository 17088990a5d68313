package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the bridge tracker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitionsTotal   *prometheus.CounterVec
	initiatedTotal     *prometheus.CounterVec
	activeTransactions prometheus.Gauge
	tickDuration       prometheus.Histogram
	tickErrorsTotal    prometheus.Counter

	feeCacheTotal   *prometheus.CounterVec
	feeQuoteErrors  *prometheus.CounterVec
	persistRetries  prometheus.Counter
	persistFailures prometheus.Counter

	eventsDropped     prometheus.Counter
	eventsForwarded   *prometheus.CounterVec
	recoveryGauge     *prometheus.GaugeVec
	actionsExecuted   *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics registers every collector with registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_transitions_total",
				Help: "Status transitions applied to bridge transactions",
			},
			[]string{"from", "to"},
		),
		initiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_initiated_total",
				Help: "Bridge transfers initiated by route",
			},
			[]string{"source", "destination", "token"},
		),
		activeTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_active_transactions",
				Help: "Transactions not yet in a terminal state",
			},
		),
		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bridge_monitor_tick_duration_seconds",
				Help:    "Duration of one lifecycle monitor sweep",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		tickErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_monitor_refresh_errors_total",
				Help: "Per-transaction refresh errors skipped during sweeps",
			},
		),
		feeCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_fee_cache_total",
				Help: "Fee estimate cache lookups by result",
			},
			[]string{"result"},
		),
		feeQuoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_fee_quote_errors_total",
				Help: "Fee quote failures by source chain",
			},
			[]string{"chain"},
		),
		persistRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_persistence_retries_total",
				Help: "Persistence write attempts that were retried",
			},
		),
		persistFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_persistence_failures_total",
				Help: "Persistence writes that exhausted retries",
			},
		),
		eventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_events_dropped_total",
				Help: "Lifecycle events dropped because a stream subscriber was full",
			},
		),
		eventsForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_events_forwarded_total",
				Help: "Lifecycle events forwarded to NATS by status",
			},
			[]string{"type", "status"},
		),
		recoveryGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_recovery_transactions",
				Help: "Transactions per recovery category at the last analysis",
			},
			[]string{"category"},
		),
		actionsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_recovery_actions_executed_total",
				Help: "Recovery actions executed by kind and status",
			},
			[]string{"kind", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_duration_seconds",
				Help:    "HTTP request duration by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordInitiated(source, destination int, token string) {
	if m == nil {
		return
	}
	m.initiatedTotal.WithLabelValues(strconv.Itoa(source), strconv.Itoa(destination), token).Inc()
}

func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeTransactions.Set(float64(n))
}

func (m *Metrics) RecordTick(seconds float64, errors int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
	m.tickErrorsTotal.Add(float64(errors))
}

func (m *Metrics) RecordFeeCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.feeCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordFeeQuoteError(chain int) {
	if m == nil {
		return
	}
	m.feeQuoteErrors.WithLabelValues(strconv.Itoa(chain)).Inc()
}

func (m *Metrics) RecordPersistRetry() {
	if m == nil {
		return
	}
	m.persistRetries.Inc()
}

func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) RecordEventForwarded(eventType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.eventsForwarded.WithLabelValues(eventType, status).Inc()
}

// SetRecovery records the size of each recovery category.
func (m *Metrics) SetRecovery(failed, stuck, unpersisted int) {
	if m == nil {
		return
	}
	m.recoveryGauge.WithLabelValues("failed").Set(float64(failed))
	m.recoveryGauge.WithLabelValues("stuck").Set(float64(stuck))
	m.recoveryGauge.WithLabelValues("unpersisted").Set(float64(unpersisted))
}

func (m *Metrics) RecordActionExecuted(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.actionsExecuted.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordHTTPRequest(route, method string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}
