package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge

	lookupTotal    *prometheus.CounterVec
	lookupKeys     prometheus.Counter
	lookupDuration prometheus.Histogram

	updateTotal    *prometheus.CounterVec
	updateDuration prometheus.Histogram

	gradientStepsTotal prometheus.Counter
	snapshotTotal      *prometheus.CounterVec

	bankEntries *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current live embedding session count.",
				},
			),
			lookupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lookup_total",
					Help: "Total lookup operations by mode and status.",
				},
				[]string{"mode", "status"},
			),
			lookupKeys: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "lookup_keys_total",
					Help: "Total keys requested across all lookups.",
				},
			),
			lookupDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "lookup_duration_seconds",
					Help:    "Lookup duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			updateTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "update_total",
					Help: "Total update operations by kind and status.",
				},
				[]string{"kind", "status"},
			),
			updateDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "update_duration_seconds",
					Help:    "Update duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			gradientStepsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gradient_steps_total",
					Help: "Total gradient descent steps applied.",
				},
			),
			snapshotTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "snapshot_total",
					Help: "Total snapshot export/import operations by direction and status.",
				},
				[]string{"direction", "status"},
			),
			bankEntries: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "knowledge_bank_entries",
					Help: "Stored embedding count by session.",
				},
				[]string{"session"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.lookupTotal,
			m.lookupKeys,
			m.lookupDuration,
			m.updateTotal,
			m.updateDuration,
			m.gradientStepsTotal,
			m.snapshotTotal,
			m.bankEntries,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordLookup(update bool, keys int, duration time.Duration, success bool) {
	m := getMetrics()
	mode := "read"
	if update {
		mode = "read_write"
	}
	status := "error"
	if success {
		status = "success"
	}
	m.lookupTotal.WithLabelValues(mode, status).Inc()
	m.lookupKeys.Add(float64(keys))
	m.lookupDuration.Observe(duration.Seconds())
}

func RecordUpdate(kind string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.updateTotal.WithLabelValues(kind, status).Inc()
	m.updateDuration.Observe(duration.Seconds())
	if kind == "gradients" && success {
		m.gradientStepsTotal.Inc()
	}
}

func RecordSnapshot(direction string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.snapshotTotal.WithLabelValues(direction, status).Inc()
}

func SetBankEntries(session string, count int) {
	m := getMetrics()
	m.bankEntries.WithLabelValues(session).Set(float64(count))
}
