package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	t.Cleanup(m.Close)
	return m
}

func TestRecordRPCCall(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRPCCall("thread/start", "ok", 10*time.Millisecond)
	m.RecordRPCCall("thread/start", "error", 5*time.Millisecond)
	m.RecordRPCCall("model/list", "ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCalls.WithLabelValues("thread/start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCalls.WithLabelValues("thread/start", "error")))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalCalls)
	assert.Equal(t, int64(1), snap.FailedCalls)
}

func TestGauges(t *testing.T) {
	m := newTestMetrics(t)

	m.SetRPCPending(4)
	m.SetProcessRunning(true)
	m.SetSurfacesActive(2)
	m.SetApprovalsPending(1)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.RPCPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessRunning))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SurfacesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsPending))

	m.SetProcessRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProcessRunning))
	assert.Equal(t, int64(2), m.Snapshot().ActiveSurfaces)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRPCCall("x", "ok", time.Second)
		m.SetRPCPending(1)
		m.RecordNotification("turn/completed")
		m.RecordInboundRequest("exec/approvalRequest")
		m.RecordMalformedLine()
		m.RecordProcessExit("crashed")
		m.RecordRouted("broadcast")
		m.IncWSConnections()
		m.Close()
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestSeparateRegistries(t *testing.T) {
	// Two collectors on distinct registries must not collide.
	assert.NotPanics(t, func() {
		a := NewMetrics(prometheus.NewRegistry())
		b := NewMetrics(prometheus.NewRegistry())
		a.Close()
		b.Close()
	})
}
