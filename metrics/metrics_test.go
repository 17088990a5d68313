package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("pending", "confirmed")
		m.RecordInitiated(1, 137, "USDC")
		m.SetActive(3)
		m.RecordTick(0.1, 1)
		m.RecordFeeCache(true)
		m.RecordFeeQuoteError(1)
		m.RecordPersistRetry()
		m.RecordPersistFailure()
		m.RecordEventDropped()
		m.RecordEventForwarded("bridge.initiated", nil)
		m.SetRecovery(1, 2, 3)
		m.RecordActionExecuted("retry", errors.New("x"))
		m.RecordHTTPRequest("/chains", "GET", 200, 0.01)
	})
}

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("pending", "confirmed")
	m.RecordTransition("pending", "confirmed")
	m.RecordFeeCache(true)
	m.RecordFeeCache(false)
	m.RecordFeeCache(false)
	m.SetActive(7)
	m.SetRecovery(1, 2, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("pending", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feeCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.feeCacheTotal.WithLabelValues("miss")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.activeTransactions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recoveryGauge.WithLabelValues("stuck")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware(m))
	r.Get("/bridge/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bridge/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/bridge/{id}", "GET", "404")))
}
