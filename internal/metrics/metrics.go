// Package metrics exposes Prometheus collectors for the search pipeline.
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

const namespace = "crawlgrep"

var (
	pagesTotal            *prometheus.CounterVec
	bytesTotal            *prometheus.CounterVec
	fetchErrorsTotal      *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	duplicatesTotal       prometheus.Counter
	matchesTotal          prometheus.Counter
	backoffSleepsTotal    prometheus.Counter
	activeWorkers         prometheus.Gauge
	frontierDepth         prometheus.Gauge
	rateLimitDelaySeconds *prometheus.HistogramVec
	robotsFallbacksTotal  prometheus.Counter
	promotionsTotal       *prometheus.CounterVec

	// Unprefixed so dashboards shared with other services keep working.
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

func counter(name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func gauge(name, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// Init registers the collectors with the default registry. Only the first
// call has any effect.
func Init() {
	once.Do(func() {
		pagesTotal = counterVec("pages_total", "Pages fetched, by site and status class.", "site", "status")
		bytesTotal = counterVec("bytes_total", "Body bytes fetched, by site.", "site")
		fetchErrorsTotal = counterVec("fetch_errors_total", "Failed transfers, by site.", "site")
		fetchDurationSeconds = histogramVec("fetch_duration_seconds", "Transfer latency, by engine.",
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}, "engine")
		duplicatesTotal = counter("duplicates_total", "Popped URLs skipped because they were already visited.")
		matchesTotal = counter("matches_total", "Pages that contained the search expression.")
		backoffSleepsTotal = counter("backoff_sleeps_total", "Sleeps taken on an empty frontier.")
		activeWorkers = gauge("active_workers", "Workers currently running.")
		frontierDepth = gauge("frontier_depth", "URLs waiting in the frontier at the last pop.")
		rateLimitDelaySeconds = histogramVec("rate_limit_delay_seconds", "Per-host rate limit waits.",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 30}, "domain")
		robotsFallbacksTotal = counter("robots_fallbacks_total",
			"robots.txt probes that fell back to allow-all after TLS handshake timeouts.")
		promotionsTotal = counterVec("promotions_total", "Probe pages re-fetched in a headless browser, by result.", "result")

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by method and code.",
		}, []string{"method", "code"})
		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// SanitizeSite reduces a URL to its lowercase hostname for use as a label,
// or "unknown" when there is none.
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

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one completed transfer.
func ObservePage(site, statusClass string, bytesFetched int) {
	host := SanitizeSite(site)
	pagesTotal.WithLabelValues(host, statusClass).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveFetchError records one failed transfer.
func ObserveFetchError(site string) {
	fetchErrorsTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveFetchDuration records how long an engine spent on one transfer.
func ObserveFetchDuration(engine string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveDuplicate counts a popped URL that was already visited.
func ObserveDuplicate() {
	duplicatesTotal.Inc()
}

// ObserveMatch counts a page containing the expression.
func ObserveMatch() {
	matchesTotal.Inc()
}

// ObserveBackoffSleep counts one empty-frontier sleep.
func ObserveBackoffSleep() {
	backoffSleepsTotal.Inc()
}

// IncActiveWorkers is called when a worker starts.
func IncActiveWorkers() { activeWorkers.Inc() }

// DecActiveWorkers is called when a worker returns.
func DecActiveWorkers() { activeWorkers.Dec() }

// SetFrontierDepth records the current frontier length.
func SetFrontierDepth(n int) {
	frontierDepth.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback increments the robots.txt allow-all fallback counter.
func ObserveRobotsFallback() {
	robotsFallbacksTotal.Inc()
}

// ObservePromotion counts one headless re-fetch; result is "rendered" or
// "failed".
func ObservePromotion(result string) {
	promotionsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
