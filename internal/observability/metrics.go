package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo API call rate. Watch for: error vs success ratio.
	MeteoAPICallsTotal *prometheus.CounterVec

	// Open-Meteo latency per request. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	MeteoAPIDuration *prometheus.HistogramVec

	// Retry attempts for Open-Meteo calls. Watch for: high retries = unstable upstream.
	MeteoAPIRetriesTotal prometheus.Counter

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping (rapid open/close cycles).
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Cache hits. Hit rate = hits / (hits + meteoApiCallsTotal).
	CacheHitsTotal *prometheus.CounterVec

	// Cache operation failures by operation (get, set, delete) and error category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency. Watch for: backend slowness before it hits render latency.
	CacheOperationDuration *prometheus.HistogramVec

	// Concurrent misses for the same key observed before the fetch completed.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Peak concurrent fetchers per city key during a stampede.
	CacheStampedeConcurrency *prometheus.GaugeVec

	// Requests served by waiting on an identical in-flight fetch instead of calling upstream.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Time spent waiting on a coalesced fetch.
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Background refresh runs and failures. Watch for: errors = cold dashboard renders.
	RefreshRunsTotal   prometheus.Counter
	RefreshErrorsTotal prometheus.Counter
	RefreshDuration    prometheus.Histogram

	// Chart render rate by chart kind. Watch for: which widgets get used.
	ChartRendersTotal *prometheus.CounterVec

	// SVG render latency by chart kind. Watch for: large datasets slowing renders.
	ChartRenderDuration *prometheus.HistogramVec

	// Full dashboard page renders.
	DashboardRendersTotal prometheus.Counter

	// Total city series lookups. Watch for: traffic volume, rate() for QPS.
	CityQueriesTotal prometheus.Counter

	// Per-city query count (tracked registry; others go to "other").
	CityQueriesByCityTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// trackedCities is built from config; used to resolve the city label.
	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	MeteoAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteoApiCallsTotal",
			Help: "Total number of Open-Meteo forecast API calls",
		},
		[]string{"status"},
	)
	MeteoAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meteoApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	MeteoAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meteoApiRetriesTotal",
			Help: "Total number of retry attempts for Open-Meteo API calls",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache operation failures",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent cache misses observed for the same city key",
		},
		[]string{"city"},
	)
	CacheStampedeConcurrency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cacheStampedeConcurrency",
			Help: "Concurrent upstream fetchers per city key",
		},
		[]string{"city"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by an in-flight identical fetch",
		},
		[]string{"city"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced fetch",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	RefreshRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refreshRunsTotal",
			Help: "Background cache refresh runs",
		},
	)
	RefreshErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refreshErrorsTotal",
			Help: "Background cache refresh runs that failed for at least one city",
		},
	)
	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refreshDurationSeconds",
			Help:    "Background cache refresh latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	ChartRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartRendersTotal",
			Help: "SVG chart renders by chart kind",
		},
		[]string{"chart"},
	)
	ChartRenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartRenderDurationSeconds",
			Help:    "SVG chart render latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"chart"},
	)
	DashboardRendersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dashboardRendersTotal",
			Help: "Full dashboard page renders",
		},
	)
	CityQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cityQueriesTotal",
			Help: "Total number of city series lookups",
		},
	)
	CityQueriesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityQueriesByCityTotal",
			Help: "City series lookups by city (tracked registry; others use city=other)",
		},
		[]string{"city"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		MeteoAPICallsTotal, MeteoAPIDuration, MeteoAPIRetriesTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDuration,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		RefreshRunsTotal, RefreshErrorsTotal, RefreshDuration,
		ChartRendersTotal, ChartRenderDuration, DashboardRendersTotal,
		CityQueriesTotal, CityQueriesByCityTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as lifecycle.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedCities sets the allow-list for the city metric label. Cities outside
// the registry increment "other" so cardinality stays bounded.
func SetTrackedCities(names []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(names))
	for _, n := range names {
		trackedCities[normalizeCityForMetrics(n)] = struct{}{}
	}
}

// RecordCityQuery records a city series lookup for the given city.
func RecordCityQuery(city string) {
	CityQueriesTotal.Inc()
	CityQueriesByCityTotal.WithLabelValues(MetricCityLabel(city)).Inc()
}

// MetricCityLabel resolves the label value for a city: the normalized name
// when tracked, "other" otherwise.
func MetricCityLabel(city string) string {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

func normalizeCityForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
