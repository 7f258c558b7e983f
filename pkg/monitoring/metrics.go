package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes that are not error kinds
const (
	OutcomeOK = "ok"
)

// LedgerMetrics holds the prometheus collectors for ledger transactions
type LedgerMetrics struct {
	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	accessChecksTotal   *prometheus.CounterVec
	persistFailures     prometheus.Counter
}

// NewLedgerMetrics creates the ledger collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewLedgerMetrics(reg prometheus.Registerer, namespace string) *LedgerMetrics {
	m := &LedgerMetrics{
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of ledger transactions by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		transactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Duration of ledger transactions in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		accessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_checks_total",
				Help:      "Total number of permission checks by result",
			},
			[]string{"result"},
		),
		persistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Total number of state commits rejected by the backend",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.transactionsTotal,
			m.transactionDuration,
			m.accessChecksTotal,
			m.persistFailures,
		)
	}
	return m
}

// RecordTransaction records one applied or rejected ledger transaction
func (m *LedgerMetrics) RecordTransaction(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(operation, outcome).Inc()
	m.transactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAccessCheck records the result of a permission check
func (m *LedgerMetrics) RecordAccessCheck(allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.accessChecksTotal.WithLabelValues(result).Inc()
}

// RecordPersistFailure records a failed state commit
func (m *LedgerMetrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
