package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sourceplane/fareflow/internal/metrics"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	m.Approval("approve", 200)
	m.Approval("approve", 200)
	m.Notification("degraded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Approvals.WithLabelValues("approve", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("degraded")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Event("x", "ok")
		m.Notification("sent")
		m.Approval("reject", 400)
		m.Deployment("created", "ok")
		m.Fetch(3)
		m.Execution("p")
	})
}
