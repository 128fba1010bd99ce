package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RateLimitMetrics counts governor decisions.
type RateLimitMetrics interface {
	ObserveDecision(allowed bool)
}

// StoreMetrics captures artifact store activity.
type StoreMetrics interface {
	IncSave(tier string)
	IncSaveFailed()
	IncDelete(status string)
	IncCorruptRecord()
	AddCleanupDeleted(n int)
}

// GatewayMetrics captures request metrics for the API gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) ObserveDecision(bool)                           {}
func (Noop) IncSave(string)                                 {}
func (Noop) IncSaveFailed()                                 {}
func (Noop) IncDelete(string)                               {}
func (Noop) IncCorruptRecord()                              {}
func (Noop) AddCleanupDeleted(int)                          {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements RateLimitMetrics and StoreMetrics backed by Prometheus.
type Prom struct {
	decisions      *prometheus.CounterVec
	saves          *prometheus.CounterVec
	saveFailures   prometheus.Counter
	deletes        *prometheus.CounterVec
	corruptRecords prometheus.Counter
	cleanupDeleted prometheus.Counter
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate governor decisions by outcome",
		}, []string{"outcome"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_saves_total",
			Help:      "Artifacts saved by serving tier",
		}, []string{"tier"}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_save_failures_total",
			Help:      "Artifact saves that failed on the local tier",
		}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_deletes_total",
			Help:      "Artifact deletions by status",
		}, []string{"status"}),
		corruptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_corrupt_records_total",
			Help:      "Metadata records skipped while listing",
		}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cleanup_deleted_total",
			Help:      "Artifacts targeted by retention cleanup",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.decisions, p.saves, p.saveFailures, p.deletes, p.corruptRecords, p.cleanupDeleted)
	})
}

func (p *Prom) ObserveDecision(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	p.decisions.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncSave(tier string) {
	p.saves.WithLabelValues(tier).Inc()
}

func (p *Prom) IncSaveFailed() {
	p.saveFailures.Inc()
}

func (p *Prom) IncDelete(status string) {
	p.deletes.WithLabelValues(status).Inc()
}

func (p *Prom) IncCorruptRecord() {
	p.corruptRecords.Inc()
}

func (p *Prom) AddCleanupDeleted(n int) {
	if n > 0 {
		p.cleanupDeleted.Add(float64(n))
	}
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
