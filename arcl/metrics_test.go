package arcl

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsNilRegisterer(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// A nil sink is a no-op.
	assert.NotPanics(t, func() {
		m.lineReceived(CategoryStatus)
		m.parseFailed(CategoryStatus)
		m.written(nil)
		m.setConnected(true)
		m.setSynced("jobs", true)
		m.setStatusDelayed(true)
		m.observeStatusLatency(0.1)
	})
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetricsRecordSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ms := startMockServer(t, nil)
	c := dialMock(t, ms, WithMetrics(m))
	assert.InDelta(t, 1, testutil.ToFloat64(m.connected), 0)

	jt := NewJobTracker(c)
	require.NoError(t, jt.Start())
	defer jt.Stop()

	require.Eventually(t, jt.IsSynced, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.synced.WithLabelValues("jobs")), 0)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.linesReceived.WithLabelValues("queue_job")) == 2
	}, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(m.writes), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.writeErrors), 0)

	ms.broadcast("QueueShow: broken\r\n")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.parseFailures.WithLabelValues("queue_job")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	expected := `
# HELP arcl_conn_connected 1 while the session is logged in
# TYPE arcl_conn_connected gauge
arcl_conn_connected 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "arcl_conn_connected"))
}
