package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	ledgerMutations  *prometheus.CounterVec
	ledgerCASRetries prometheus.Counter
	syncRecords      *prometheus.CounterVec
	syncBatchSeconds prometheus.Histogram
	conflictsOpened  *prometheus.CounterVec
	conflictsClosed  *prometheus.CounterVec
	reconcileResults *prometheus.CounterVec
	reconcileDrift   prometheus.Histogram
	auditFailures    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpSeconds      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ledgerMutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_mutations_total",
				Help: "Ledger mutations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ledgerCASRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_cas_retries_total",
			Help: "Version conflicts that caused a read-modify-write retry",
		}),
		syncRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_records_total",
				Help: "Offline records ingested by outcome",
			},
			[]string{"outcome"},
		),
		syncBatchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_batch_duration_seconds",
			Help:    "Duration of sync batch ingestion",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		conflictsOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conflicts_opened_total",
				Help: "Conflicts opened by reason",
			},
			[]string{"reason"},
		),
		conflictsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conflicts_resolved_total",
				Help: "Conflicts resolved by strategy",
			},
			[]string{"strategy"},
		),
		reconcileResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_results_total",
				Help: "Reconciliation results by action",
			},
			[]string{"action"},
		),
		reconcileDrift: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciliation_drift_abs",
			Help:    "Absolute drift of mismatched accounts in currency units",
			Buckets: []float64{.01, .1, 1, 5, 10, 50, 100, 500, 1000},
		}),
		auditFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_sink_failures_total",
				Help: "Audit events a sink failed to write",
			},
			[]string{"sink"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) LedgerMutation(kind, outcome string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) CASRetry() {
	if m == nil {
		return
	}
	m.ledgerCASRetries.Inc()
}

func (m *Metrics) SyncRecord(outcome string) {
	if m == nil {
		return
	}
	m.syncRecords.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SyncBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.syncBatchSeconds.Observe(d.Seconds())
}

func (m *Metrics) ConflictOpened(reason string) {
	if m == nil {
		return
	}
	m.conflictsOpened.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConflictResolved(strategy string) {
	if m == nil {
		return
	}
	m.conflictsClosed.WithLabelValues(strategy).Inc()
}

func (m *Metrics) ReconcileResult(action string, absDrift float64) {
	if m == nil {
		return
	}
	m.reconcileResults.WithLabelValues(action).Inc()
	if absDrift > 0 {
		m.reconcileDrift.Observe(absDrift)
	}
}

func (m *Metrics) AuditFailure(sink string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
