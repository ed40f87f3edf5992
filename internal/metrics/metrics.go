// Package metrics exposes Prometheus collectors for the crawl and ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fincompliance"

var (
	crawlCyclesTotal           *prometheus.CounterVec
	documentsDiscoveredTotal   *prometheus.CounterVec
	crawlSkipsTotal            *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	ingestionsTotal            *prometheus.CounterVec
	chunksStoredTotal          prometheus.Counter
	ingestDurationSeconds      prometheus.Histogram
	notificationsTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; Observe helpers call it lazily.
func Init() {
	once.Do(func() {
		crawlCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawl_cycles_total",
				Help:      "Crawl cycles run, labeled by document class and outcome.",
			},
			[]string{"class", "status"},
		)

		documentsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_discovered_total",
				Help:      "New documents persisted by crawl cycles, labeled by class.",
			},
			[]string{"class"},
		)

		crawlSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "crawl_skips_total",
				Help:      "Listing units skipped during crawl cycles, labeled by class and reason.",
			},
			[]string{"class", "reason"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "HTTP fetch attempts, labeled by fetch kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_bytes_total",
				Help:      "Bytes fetched, labeled by host.",
			},
			[]string{"site"},
		)

		ingestionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestions_total",
				Help:      "Document ingestions, labeled by outcome (stored, existing, or the failing stage).",
			},
			[]string{"outcome"},
		)

		chunksStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_stored_total",
				Help:      "Chunks written to the vector store.",
			},
		)

		ingestDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Wall time of ingestions that did work.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification deliveries, labeled by channel and status.",
			},
			[]string{"channel", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Number of ingestion workers currently processing a request.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_delays_seconds",
				Help:      "Histogram of rate limit wait durations.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of API request latencies, labeled by method and route.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawlCycle counts a finished cycle.
func ObserveCrawlCycle(class, status string) {
	Init()
	crawlCyclesTotal.WithLabelValues(class, status).Inc()
}

// ObserveDocumentsDiscovered adds n newly persisted documents.
func ObserveDocumentsDiscovered(class string, n int) {
	Init()
	if n > 0 {
		documentsDiscoveredTotal.WithLabelValues(class).Add(float64(n))
	}
}

// ObserveCrawlSkips records skip counts keyed by reason.
func ObserveCrawlSkips[K ~string](class string, skips map[K]int) {
	Init()
	for reason, n := range skips {
		if n > 0 {
			crawlSkipsTotal.WithLabelValues(class, string(reason)).Add(float64(n))
		}
	}
}

// ObserveFetch counts one fetch attempt and the bytes it returned.
func ObserveFetch(site, kind, outcome string, bytesFetched int) {
	Init()
	fetchAttemptsTotal.WithLabelValues(kind, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveIngestion records one ingestion outcome; duration is ignored when zero.
func ObserveIngestion(outcome string, chunks int, duration time.Duration) {
	Init()
	ingestionsTotal.WithLabelValues(outcome).Inc()
	if chunks > 0 {
		chunksStoredTotal.Add(float64(chunks))
	}
	if duration > 0 {
		ingestDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveNotification counts a notifier delivery attempt.
func ObserveNotification(channel, status string) {
	Init()
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
