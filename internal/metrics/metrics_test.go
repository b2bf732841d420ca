package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SyncRecord("APPLIED")
	m.SyncRecord("APPLIED")
	m.SyncRecord("CONFLICT")
	m.LedgerMutation("DEBIT", "applied")
	m.CASRetry()
	m.ReconcileResult("AUTO_ADJUSTED", 5)
	m.SyncBatch(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncRecords.WithLabelValues("APPLIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRecords.WithLabelValues("CONFLICT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerMutations.WithLabelValues("DEBIT", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerCASRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconcileResults.WithLabelValues("AUTO_ADJUSTED")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SyncRecord("APPLIED")
		m.LedgerMutation("CREDIT", "applied")
		m.CASRetry()
		m.ConflictOpened("INSUFFICIENT_BALANCE")
		m.ConflictResolved("MANUAL")
		m.ReconcileResult("NONE", 0)
		m.AuditFailure("kafka")
		m.SyncBatch(time.Second)
		m.HTTPRequest("GET", "/accounts/{id}/balance", "200", time.Millisecond)
	})
}

func TestMetrics_HTTPRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.HTTPRequest("POST", "/sync/batch", "200", 15*time.Millisecond)
	m.HTTPRequest("POST", "/sync/batch", "200", 25*time.Millisecond)
	m.HTTPRequest("POST", "/sync/batch", "413", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/sync/batch", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/sync/batch", "413")))
}
