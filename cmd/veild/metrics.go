// metrics.go - Prometheus metrics for the veil daemon
package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solveil/veil/internal/codes"
)

const metricsNamespace = "veil"

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	operationTime  *prometheus.HistogramVec
	proofVerify    *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	vaasPublished  prometheus.Counter
	vaasReceived   *prometheus.CounterVec
	rateLimited    prometheus.Counter
	natsConnected  prometheus.Gauge
	peersReachable prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "program",
			Name:      "operations_total",
			Help:      "Operations executed, by operation and result code",
		}, []string{"op", "code"}),
		operationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "program",
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside one unit of work",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		proofVerify: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "proof",
			Name:      "verify_duration_seconds",
			Help:      "Groth16 verification time",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		vaasPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "vaas_published_total",
			Help:      "Messages signed by the local guardian",
		}),
		vaasReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "vaas_received_total",
			Help:      "Inbound messages by outcome",
		}, []string{"code"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client limiter",
		}),
		natsConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "nats_connected",
			Help:      "NATS connection status (1=connected, 0=disconnected)",
		}),
		peersReachable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "transport",
			Name:      "peers_reachable",
			Help:      "Peers that answered the last health probe",
		}),
	}
}

// Observe implements program.Observer.
func (m *Metrics) Observe(op string, elapsed time.Duration, err error) {
	code := codes.CodeOf(err)
	if code == "" {
		code = "OK"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.operationTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveProof records one proof verification.
func (m *Metrics) ObserveProof(elapsed time.Duration, err error) {
	result := "valid"
	if err != nil {
		result = "invalid"
	}
	m.proofVerify.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveInbound records the outcome of one inbound message.
func (m *Metrics) ObserveInbound(err error) {
	code := codes.CodeOf(err)
	if code == "" {
		code = "OK"
	}
	m.vaasReceived.WithLabelValues(code).Inc()
}

// Middleware counts and times every request by its route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
