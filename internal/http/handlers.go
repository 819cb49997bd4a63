package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/charts"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/client"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/lifecycle"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/service"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/stats"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/traffic"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	// CachePing, when set, is called to check cache reachability. Set for
	// backends that have something to reach (memcached, redis, sqlite).
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboard    *service.DashboardService
	meteo        client.MeteoClient
	registry     *cities.Registry
	healthConfig *HealthConfig
	logger       *zap.Logger
	rateLimiter  *rate.Limiter
	defaultDays  int
	defaultBins  int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	dashboard *service.DashboardService,
	meteo client.MeteoClient,
	registry *cities.Registry,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
	defaultDays int,
	defaultBins int,
) *Handler {
	return &Handler{
		dashboard:    dashboard,
		meteo:        meteo,
		registry:     registry,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
		defaultDays:  defaultDays,
		defaultBins:  defaultBins,
	}
}

// fetchDataset runs the concurrent multi-city fetch and records the outcome
// for the health windows: a complete failure counts as an error, anything
// that produced rows counts as success.
func (h *Handler) fetchDataset(ctx context.Context, cityList []cities.City, days int) (models.Dataset, []models.CityError) {
	ds, failed := h.dashboard.GetDataset(ctx, cityList, days)
	if ds.Records() == 0 && len(failed) > 0 {
		traffic.RecordError()
	} else {
		traffic.RecordSuccess()
	}
	return ds, failed
}

// fetchSeries fetches a single city and records the outcome.
func (h *Handler) fetchSeries(ctx context.Context, city cities.City, days int) (models.CitySeries, error) {
	series, err := h.dashboard.GetCitySeries(ctx, city, days)
	if err != nil {
		traffic.RecordError()
		return models.CitySeries{}, err
	}
	traffic.RecordSuccess()
	return series, nil
}

// GetCities handles GET /api/v1/cities.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cities": h.registry.All(),
	})
}

// GetNearestCity handles GET /api/v1/cities/nearest?lat=..&lon=..
func (h *Handler) GetNearestCity(w http.ResponseWriter, r *http.Request) {
	var q nearestQuery
	if err := q.bind(r); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	city, km := h.registry.Nearest(q.Lat, q.Lon)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"city":       city,
		"distanceKm": km,
	})
}

// GetObservations handles GET /api/v1/observations?cities=..&days=..
// It returns the merged tabular rows, sorted by time ascending.
func (h *Handler) GetObservations(w http.ResponseWriter, r *http.Request) {
	var q datasetQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	ds, failed := h.fetchDataset(r.Context(), q.Cities, q.Days)
	if ds.Records() == 0 {
		writeNoData(w, r, failed)
		return
	}

	resp := map[string]interface{}{
		"days":    q.Days,
		"cities":  ds.Cities(),
		"records": ds.Records(),
		"rows":    ds.Rows(),
	}
	if len(failed) > 0 {
		resp["errors"] = failed
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSummary handles GET /api/v1/summary?cities=..&days=..
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	var q datasetQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	ds, failed := h.fetchDataset(r.Context(), q.Cities, q.Days)
	if ds.Records() == 0 {
		writeNoData(w, r, failed)
		return
	}

	resp := map[string]interface{}{
		"days":      q.Days,
		"summaries": stats.Summaries(ds.Rows()),
	}
	if len(failed) > 0 {
		resp["errors"] = failed
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetKPIs handles GET /api/v1/kpis?cities=..&days=..
func (h *Handler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	var q datasetQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	ds, failed := h.fetchDataset(r.Context(), q.Cities, q.Days)
	if ds.Records() == 0 {
		writeNoData(w, r, failed)
		return
	}

	resp := map[string]interface{}{
		"days": q.Days,
		"kpis": stats.Aggregate(ds.Rows()),
	}
	if len(failed) > 0 {
		resp["errors"] = failed
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostRefresh handles POST /api/v1/refresh?cities=..
// It drops the cached series for the selected cities across every lookback,
// so the next render observes fresh upstream data. Form posts from the
// dashboard are redirected back to the page they came from.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	selected, err := resolveCities(r.URL.Query()["cities"], h.registry)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	if err := h.dashboard.Invalidate(r.Context(), selected); err != nil {
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Error("cache invalidation", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "CACHE_ERROR", "unable to invalidate cached data")
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		target := "/"
		if q := r.URL.RawQuery; q != "" {
			target += "?" + q
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	names := make([]string, 0, len(selected))
	for _, c := range selected {
		names = append(names, c.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"invalidated": names,
	})
}

// GetTemperatureChart handles GET /charts/temperature.svg?cities=..&days=..
func (h *Handler) GetTemperatureChart(w http.ResponseWriter, r *http.Request) {
	var q datasetQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	ds, failed := h.fetchDataset(r.Context(), q.Cities, q.Days)
	if ds.Records() == 0 {
		writeNoData(w, r, failed)
		return
	}

	var buf bytes.Buffer
	if err := charts.TemperatureLines(&buf, ds); err != nil {
		writeChartError(w, r, err)
		return
	}
	writeSVG(w, &buf)
}

// GetSummaryChart handles GET /charts/summary.svg?metric=..&cities=..&days=..
func (h *Handler) GetSummaryChart(w http.ResponseWriter, r *http.Request) {
	var q summaryChartQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	ds, failed := h.fetchDataset(r.Context(), q.Cities, q.Days)
	if ds.Records() == 0 {
		writeNoData(w, r, failed)
		return
	}

	var buf bytes.Buffer
	if err := charts.SummaryBars(&buf, stats.Summaries(ds.Rows()), charts.Metric(q.Metric)); err != nil {
		writeChartError(w, r, err)
		return
	}
	writeSVG(w, &buf)
}

// GetCityTrendChart handles GET /charts/city/{city}/trend.svg?days=..
func (h *Handler) GetCityTrendChart(w http.ResponseWriter, r *http.Request) {
	var q cityQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	series, err := h.fetchSeries(r.Context(), q.City, q.Days)
	if err != nil {
		writeUpstreamError(w, r, q.City.Name, err)
		return
	}
	if len(series.Rows) == 0 {
		writeNoData(w, r, nil)
		return
	}

	var buf bytes.Buffer
	if err := charts.CityTrend(&buf, series); err != nil {
		writeChartError(w, r, err)
		return
	}
	writeSVG(w, &buf)
}

// GetCityHistogramChart handles GET /charts/city/{city}/histogram.svg?days=..&bins=..
func (h *Handler) GetCityHistogramChart(w http.ResponseWriter, r *http.Request) {
	var q histogramQuery
	if err := q.bind(r, h.registry, h.defaultDays, h.defaultBins); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	series, err := h.fetchSeries(r.Context(), q.City, q.Days)
	if err != nil {
		writeUpstreamError(w, r, q.City.Name, err)
		return
	}
	if len(series.Rows) == 0 {
		writeNoData(w, r, nil)
		return
	}

	var buf bytes.Buffer
	if err := charts.TemperatureHistogram(&buf, series, q.Bins); err != nil {
		writeChartError(w, r, err)
		return
	}
	writeSVG(w, &buf)
}

// GetCityScatterChart handles GET /charts/city/{city}/scatter.svg?days=..
func (h *Handler) GetCityScatterChart(w http.ResponseWriter, r *http.Request) {
	var q cityQuery
	if err := q.bind(r, h.registry, h.defaultDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	series, err := h.fetchSeries(r.Context(), q.City, q.Days)
	if err != nil {
		writeUpstreamError(w, r, q.City.Name, err)
		return
	}
	if len(series.Rows) == 0 {
		writeNoData(w, r, nil)
		return
	}

	var buf bytes.Buffer
	if err := charts.TempWindScatter(&buf, series); err != nil {
		writeChartError(w, r, err)
		return
	}
	writeSVG(w, &buf)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["openMeteo"] = "unhealthy"
	} else {
		checks["openMeteo"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-dashboard",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates the health ladder in priority order:
// shutting-down > overloaded > idle > degraded > healthy. The upstream probe
// runs last so overload and idle answers stay cheap and a busy service does
// not ping Open-Meteo on every health check.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		if err := h.meteo.Ping(ctx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "upstream_unreachable"}
		}
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Overloaded: rate-limit pressure over the window exceeds the configured
	// share of what the limiter would admit.
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	// Idle: too few requests in the window, once past the minimum lifespan.
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && lifecycle.Uptime() >= h.healthConfig.MinimumLifespan {
		if traffic.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	// Degraded: data requests failing beyond the error-rate threshold.
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	if err := h.meteo.Ping(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "upstream_unreachable"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeUpstreamError writes a 502 for a single-city fetch that failed.
// Logs the underlying error at DEBUG level if logger is available in request context.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, city string, err error) {
	writeError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "unable to fetch weather data for "+city)
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.String("city", city), zap.Error(err))
	}
}

// writeNoData writes a 502 when no city produced any rows, listing the cities
// that failed so the caller can tell a dead upstream from an empty result.
func writeNoData(w http.ResponseWriter, r *http.Request, failed []models.CityError) {
	msg := "no weather data could be fetched"
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, f := range failed {
			names = append(names, f.City)
		}
		msg += ": " + strings.Join(names, ", ") + " failed"
	}
	writeError(w, r, http.StatusBadGateway, "NO_DATA", msg)
}

// writeChartError maps a chart render failure to the error envelope.
func writeChartError(w http.ResponseWriter, r *http.Request, err error) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Error("chart render", zap.Error(err))
	}
	writeError(w, r, http.StatusInternalServerError, "CHART_RENDER", "unable to render chart")
}

// writeSVG flushes a fully rendered chart. Rendering goes through a buffer
// first so a mid-render failure never leaks half an SVG with a 200 status.
func writeSVG(w http.ResponseWriter, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

// GetTestStatus handles GET /test. Returns current simulated state.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errCount, _ := traffic.ErrorRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		overloadThreshold := 0
		if h.healthConfig.RateLimitRPS > 0 {
			overloadThreshold = int(float64(h.healthConfig.RateLimitRPS) *
				h.healthConfig.OverloadWindow.Seconds() *
				float64(h.healthConfig.OverloadThresholdPct) / 100)
		}
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = overloadThreshold
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	resp := map[string]interface{}{
		"total_requests_in_window":  traffic.RequestCount(window),
		"denied_requests_in_window": traffic.DenialCount(window),
		"errors_in_window":          errCount,
		"window_length":             window.String(),
		"config":                    cfg,
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.postTestReset(w, r)
	case "shutdown":
		h.postTestShutdown(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// postTestLoad simulates load by recording the specified number of requests,
// respecting rate limits if configured. Returns accepted/denied counts and current health state.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 10
	}
	var accepted, denied int
	if h.rateLimiter != nil {
		for i := 0; i < body.Count; i++ {
			if h.rateLimiter.Allow() {
				traffic.RecordSuccess()
				accepted++
			} else {
				traffic.RecordDenied()
				observability.RateLimitDeniedTotal.Inc()
				denied++
			}
		}
	} else {
		traffic.RecordSuccessN(body.Count)
		accepted = body.Count
	}
	result := h.computeHealthStatus(r.Context())
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    result.status,
		"accepted": accepted,
		"denied":   denied,
	})
}

// postTestError simulates errors by recording the specified number of error events.
// Returns current error rate percentage and health state after recording errors.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 1
	}
	traffic.RecordErrorN(body.Count)
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		window = h.healthConfig.DegradedWindow
	}
	errCount, total := traffic.ErrorRate(window)
	pct := 0
	if total > 0 {
		pct = errCount * 100 / total
	}
	result := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(body.Count) + " errors",
		"state":          result.status,
		"error_rate_pct": pct,
	})
}

// postTestReset clears all simulated state: recorded outcomes, the shutdown
// flag, and the uptime clock the idle check keys off.
func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) {
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	lifecycle.ResetStartTime()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "All simulated state cleared",
	})
}

// postTestShutdown sets the service shutdown flag, triggering graceful shutdown behavior.
// Health checks will return shutting-down status after this is called.
func (h *Handler) postTestShutdown(w http.ResponseWriter, r *http.Request) {
	lifecycle.SetShuttingDown(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "shutdown",
		"message": "Shutting-down flag set",
	})
}
