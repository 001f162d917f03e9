package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(WithPrometheusRegistry(reg), WithNamespace("test"))

	m.batches.WithLabelValues("publish").Inc()
	m.rowsCommitted.Add(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_results_batches_total"])
	assert.True(t, names["test_results_rows_committed_total"])
}

func TestRecordBatchCountsRows(t *testing.T) {
	before := testutil.ToFloat64(globalManager.rowsCommitted)
	RecordBatch("publish", 4)
	RecordBatch("reversal", 4)

	assert.Equal(t, before+8, testutil.ToFloat64(globalManager.rowsCommitted))
	assert.GreaterOrEqual(t, testutil.ToFloat64(globalManager.batches.WithLabelValues("reversal")), 1.0)
}

func TestRecordersDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordOutcome("insert", 2)
		RecordValidation()
		RecordPublishDuration(12)
		RecordPublishFailure("transaction_conflict")
		RecordNotification("sent")
		RecordAsyncDropped("certificate", 1)
		RecordHTTPRequest("/api/admin/healthz", "GET", "200", 1.5)
		UpdateUploadsInFlight(3)
		UpdateNotifyQueueDepth(0)
	})
}
