package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CatalogMetrics captures catalog mutations and update-loop contention.
type CatalogMetrics interface {
	IncSubmission(status string)
	IncDownload()
	IncRating()
	IncUpdateConflict(op string)
	ObserveUpdateAttempts(op string, attempts int)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements CatalogMetrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncSubmission(string)                           {}
func (Noop) IncDownload()                                   {}
func (Noop) IncRating()                                     {}
func (Noop) IncUpdateConflict(string)                       {}
func (Noop) ObserveUpdateAttempts(string, int)              {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements CatalogMetrics backed by Prometheus collectors.
type Prom struct {
	submissions    *prometheus.CounterVec
	downloads      prometheus.Counter
	ratings        prometheus.Counter
	conflicts      *prometheus.CounterVec
	updateAttempts *prometheus.HistogramVec
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Archive submissions by outcome",
		}, []string{"status"}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads folded into catalog records",
		}),
		ratings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_total",
			Help:      "Ratings folded into catalog records",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_conflicts_total",
			Help:      "Compare-and-swap conflicts by operation",
		}, []string{"op"}),
		updateAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_attempts",
			Help:      "Attempts needed per record update by operation",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"op"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.submissions, p.downloads, p.ratings, p.conflicts, p.updateAttempts)
	})
}

func (p *Prom) IncSubmission(status string) {
	p.submissions.WithLabelValues(status).Inc()
}

func (p *Prom) IncDownload() {
	p.downloads.Inc()
}

func (p *Prom) IncRating() {
	p.ratings.Inc()
}

func (p *Prom) IncUpdateConflict(op string) {
	p.conflicts.WithLabelValues(op).Inc()
}

func (p *Prom) ObserveUpdateAttempts(op string, attempts int) {
	p.updateAttempts.WithLabelValues(op).Observe(float64(attempts))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusLabel renders an HTTP status code as a metric label.
func StatusLabel(code int) string {
	return strconv.Itoa(code)
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
