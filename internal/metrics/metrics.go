package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters the handlers and the deploy step report.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Events        *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Approvals     *prometheus.CounterVec
	Deployments   *prometheus.CounterVec
	FetchAttempts prometheus.Histogram
	Executions    *prometheus.CounterVec
}

// New registers the fareflow metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fareflow",
			Name:      "events_total",
			Help:      "Lifecycle events received, by detail type and outcome.",
		}, []string{"detail_type", "outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fareflow",
			Name:      "notifications_total",
			Help:      "Notifications published, by kind.",
		}, []string{"kind"}),
		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fareflow",
			Name:      "approval_requests_total",
			Help:      "Approve/reject requests, by action and response code.",
		}, []string{"action", "code"}),
		Deployments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fareflow",
			Name:      "deployments_total",
			Help:      "Endpoint deployments, by mode and result.",
		}, []string{"mode", "result"}),
		FetchAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fareflow",
			Name:      "metrics_fetch_attempts",
			Help:      "Attempts needed to read a metrics artifact.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fareflow",
			Name:      "pipeline_executions_total",
			Help:      "Pipeline executions started, by pipeline.",
		}, []string{"pipeline"}),
	}
}

func (m *Metrics) Event(detailType, outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(detailType, outcome).Inc()
}

func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) Approval(action string, code int) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(action, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Deployment(mode, result string) {
	if m == nil {
		return
	}
	m.Deployments.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) Fetch(attempts int) {
	if m == nil {
		return
	}
	m.FetchAttempts.Observe(float64(attempts))
}

func (m *Metrics) Execution(pipeline string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(pipeline).Inc()
}
