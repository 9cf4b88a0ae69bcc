package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	HTTPAttempts   *prometheus.CounterVec   // method, outcome=ok|http_error|timeout|error
	HTTPLatencyMS  *prometheus.HistogramVec // method
	TokenCache     *prometheus.CounterVec   // scope, result=hit|miss|error
	Resolutions    *prometheus.CounterVec   // result=found|not_found|error
	DroppedGroups  prometheus.Counter
	TasksProcessed *prometheus.CounterVec // type, result=ok|retry|skip
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harmoney_http_attempts_total",
				Help: "Outbound HTTP attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		HTTPLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harmoney_http_attempt_latency_ms",
				Help:    "Latency of single outbound HTTP attempts (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"method"},
		),
		TokenCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harmoney_token_cache_total",
				Help: "Credential cache lookups by scope and result",
			},
			[]string{"scope", "result"},
		),
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harmoney_member_resolutions_total",
				Help: "Member resolutions by result",
			},
			[]string{"result"},
		),
		DroppedGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harmoney_member_groups_dropped_total",
			Help: "Duplicate member groups that produced no representative",
		}),
		TasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harmoney_tasks_processed_total",
				Help: "Background tasks processed by type and result",
			},
			[]string{"type", "result"},
		),
	}

	reg.MustRegister(
		m.HTTPAttempts,
		m.HTTPLatencyMS,
		m.TokenCache,
		m.Resolutions,
		m.DroppedGroups,
		m.TasksProcessed,
	)

	return m
}

// ObserveAttempt satisfies httpclient.Observer.
func (m *Metrics) ObserveAttempt(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPAttempts.WithLabelValues(method, outcome).Inc()
	m.HTTPLatencyMS.WithLabelValues(method).Observe(float64(d.Microseconds()) / 1000)
}

// ObserveToken satisfies credentials.Observer.
func (m *Metrics) ObserveToken(scope, result string) {
	if m == nil {
		return
	}
	m.TokenCache.WithLabelValues(scope, result).Inc()
}

// ObserveResolution satisfies member.Observer.
func (m *Metrics) ObserveResolution(result string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(result).Inc()
}

// ObserveDroppedGroup satisfies member.Observer.
func (m *Metrics) ObserveDroppedGroup() {
	if m == nil {
		return
	}
	m.DroppedGroups.Inc()
}

// ObserveTask satisfies jobs.Observer.
func (m *Metrics) ObserveTask(taskType, result string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(taskType, result).Inc()
}
