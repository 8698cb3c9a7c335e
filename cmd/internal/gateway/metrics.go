package gateway

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/idempotency"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/lock"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// Handshake outcomes.
const (
	handshakeAuthenticated = "authenticated"
	handshakeRejected      = "rejected"
	handshakeTimedOut      = "timeout"
)

// Metrics holds gateway counters. A nil *Metrics records nothing.
type Metrics struct {
	handshakes  *prometheus.CounterVec
	requests    *prometheus.CounterVec
	rateLimited prometheus.Counter
	stale       prometheus.Counter
}

// NewMetrics creates and registers the gateway counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowork",
			Subsystem: "gateway",
			Name:      "handshakes_total",
			Help:      "Connect handshakes by outcome.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowork",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Routed requests by method and response code.",
		}, []string{"method", "code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowork",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Connections closed for exceeding the request rate.",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowork",
			Subsystem: "gateway",
			Name:      "stale_closed_total",
			Help:      "Authenticated connections closed for missing heartbeats.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.handshakes, m.requests, m.rateLimited, m.stale} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) request(method string, shape *v1.ErrorShape) {
	if m == nil {
		return
	}
	code := "ok"
	if shape != nil {
		code = shape.Code
	}
	m.requests.WithLabelValues(method, code).Inc()
}

func (m *Metrics) rateLimit() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) staleClosed() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

// stateCollector exports live registry, idempotency and lock pool sizes at scrape time.
type stateCollector struct {
	registry *controlplane.Registry
	idem     *idempotency.Manager[json.RawMessage]
	locks    *lock.NamedMutexManager

	clients *prometheus.Desc
	entries *prometheus.Desc
	named   *prometheus.Desc
}

// NewStateCollector returns a collector over the gateway's live state.
func NewStateCollector(registry *controlplane.Registry, idem *idempotency.Manager[json.RawMessage], locks *lock.NamedMutexManager) prometheus.Collector {
	return &stateCollector{
		registry: registry,
		idem:     idem,
		locks:    locks,
		clients: prometheus.NewDesc("cowork_clients", "Registered connections by state.",
			[]string{"state"}, nil),
		entries: prometheus.NewDesc("cowork_idempotency_entries", "Live idempotency entries by status.",
			[]string{"status"}, nil),
		named: prometheus.NewDesc("cowork_named_locks", "Entries in the named lock pool.",
			nil, nil),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.clients
	ch <- c.entries
	ch <- c.named
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.registry.Status()
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(st.Authenticated-st.Nodes), "operator")
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(st.Nodes), "node")
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(st.Pending), "pending")

	is := c.idem.Stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(is.Pending), "pending")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(is.Completed), "completed")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(is.Failed), "failed")

	ch <- prometheus.MustNewConstMetric(c.named, prometheus.GaugeValue, float64(c.locks.Len()))
}
