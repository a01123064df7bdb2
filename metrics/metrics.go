/*
Package metrics holds the Prometheus instruments of the service.

PURPOSE:
  One dedicated registry per process, exposed at /metrics. Every recording
  method is safe on a nil *Metrics so components can run without metrics in
  tests.

SEE ALSO:
  - api/middleware.go: HTTP request counter
  - billing/feed.go: Sync reads, acks and pruning
  - notify/outbound.go: Outbound notification results
*/
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ack and send results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
)

type Metrics struct {
	registry          *prometheus.Registry
	httpRequests      *prometheus.CounterVec
	syncReads         prometheus.Counter
	syncAcks          *prometheus.CounterVec
	changesPruned     prometheus.Counter
	notificationsSent *prometheus.CounterVec
}

// New registers all instruments on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movimientos_http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		syncReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movimientos_billing_sync_reads_total",
			Help: "Billing sync feed reads.",
		}),
		syncAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movimientos_billing_sync_acks_total",
			Help: "Billing sync acknowledgements by result.",
		}, []string{"result"}),
		changesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movimientos_change_log_pruned_total",
			Help: "Exportable movement change rows removed after acknowledgement.",
		}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movimientos_notifications_sent_total",
			Help: "Outbound notifications by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.syncReads,
		m.syncAcks,
		m.changesPruned,
		m.notificationsSent,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route, method string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) SyncRead() {
	if m == nil {
		return
	}
	m.syncReads.Inc()
}

func (m *Metrics) SyncAck(result string) {
	if m == nil {
		return
	}
	m.syncAcks.WithLabelValues(result).Inc()
}

func (m *Metrics) ChangesPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.changesPruned.Add(float64(n))
}

func (m *Metrics) NotificationSent(result string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(result).Inc()
}
