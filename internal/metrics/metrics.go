// Package metrics exposes the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing, so wiring stays optional.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for confirmation submissions.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics holds every collector the service records into.
type Metrics struct {
	confirmationsTotal   *prometheus.CounterVec
	cyclesClosedTotal    prometheus.Counter
	closureFailuresTotal prometheus.Counter
	repairBacklog        prometheus.Gauge
	hubRequestsTotal     *prometheus.CounterVec
	hubRequestDuration   *prometheus.HistogramVec
	alertsPublishedTotal *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		confirmationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "closeout",
			Name:      "confirmations_total",
			Help:      "Confirmation submissions by outcome",
		}, []string{"outcome"}),
		cyclesClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "closeout",
			Name:      "cycles_closed_total",
			Help:      "Settlement cycles closed on the hub",
		}),
		closureFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "closeout",
			Name:      "closure_failures_total",
			Help:      "Closure attempts that failed and went to the retry path",
		}),
		repairBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "closeout",
			Name:      "closure_repair_backlog",
			Help:      "Cycles with a failed closure awaiting repair, as of the last sweep",
		}),
		hubRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "closeout",
			Name:      "hub_requests_total",
			Help:      "Requests to the settlement hub by operation and status code",
		}, []string{"op", "code"}),
		hubRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "closeout",
			Name:      "hub_request_duration_seconds",
			Help:      "Settlement hub request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		alertsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "closeout",
			Name:      "alerts_published_total",
			Help:      "Alert events published by kind",
		}, []string{"kind"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "closeout",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status code",
		}, []string{"method", "path", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "closeout",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.confirmationsTotal,
		m.cyclesClosedTotal,
		m.closureFailuresTotal,
		m.repairBacklog,
		m.hubRequestsTotal,
		m.hubRequestDuration,
		m.alertsPublishedTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// ObserveConfirmation counts one submission outcome.
func (m *Metrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycleClosed counts one successful closure.
func (m *Metrics) ObserveCycleClosed() {
	if m == nil {
		return
	}
	m.cyclesClosedTotal.Inc()
}

// ObserveClosureFailure counts one failed closure attempt.
func (m *Metrics) ObserveClosureFailure() {
	if m == nil {
		return
	}
	m.closureFailuresTotal.Inc()
}

// SetRepairBacklog records the CLOSE_FAILED marker count from a repair
// sweep.
func (m *Metrics) SetRepairBacklog(n int) {
	if m == nil {
		return
	}
	m.repairBacklog.Set(float64(n))
}

// ObserveHubRequest records one hub call. code is the HTTP status, or
// "transport" when the request never got an answer.
func (m *Metrics) ObserveHubRequest(op, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.hubRequestsTotal.WithLabelValues(op, code).Inc()
	m.hubRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveAlertPublished counts one published alert event.
func (m *Metrics) ObserveAlertPublished(kind string) {
	if m == nil {
		return
	}
	m.alertsPublishedTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest records one served request. path must be the
// route template, not the raw URL, to keep cardinality bounded.
func (m *Metrics) ObserveHTTPRequest(method, path string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
