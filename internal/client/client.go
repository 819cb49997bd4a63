package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
)

// MeteoClient fetches hourly weather series from the forecast upstream.
type MeteoClient interface {
	FetchHourly(ctx context.Context, city cities.City, pastDays int) (models.CitySeries, error)
	Ping(ctx context.Context) error
}

var (
	ErrBadRequest        = errors.New("bad request")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// hourLayout is the timestamp format Open-Meteo uses for hourly arrays.
const hourLayout = "2006-01-02T15:04"

// Resilience bundles retry and circuit breaker settings for the client.
type Resilience struct {
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// DefaultResilience matches the upstream's published rate limits: three
// attempts with short backoff, breaker opens on repeated failure and probes
// again after two minutes.
func DefaultResilience() Resilience {
	return Resilience{
		RetryAttempts:      3,
		RetryBaseDelay:     100 * time.Millisecond,
		RetryMaxDelay:      2 * time.Second,
		BreakerMaxRequests: 5,
		BreakerInterval:    time.Minute,
		BreakerTimeout:     2 * time.Minute,
	}
}

// OpenMeteoClient calls the Open-Meteo forecast API. No API key needed.
type OpenMeteoClient struct {
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewOpenMeteoClient(apiURL string, timeout time.Duration) (*OpenMeteoClient, error) {
	return NewOpenMeteoClientWithResilience(apiURL, timeout, DefaultResilience())
}

func NewOpenMeteoClientWithResilience(apiURL string, timeout time.Duration, res Resilience) (*OpenMeteoClient, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("%w: API URL is required", ErrBadRequest)
	}
	if res.RetryAttempts <= 0 {
		res.RetryAttempts = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: res.BreakerMaxRequests,
		Interval:    res.BreakerInterval,
		Timeout:     res.BreakerTimeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
			observability.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	observability.CircuitBreakerState.WithLabelValues("open-meteo").Set(breakerStateValue(gobreaker.StateClosed))

	return &OpenMeteoClient{
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  res.RetryAttempts,
		retryBaseDelay: res.RetryBaseDelay,
		retryMaxDelay:  res.RetryMaxDelay,
		breaker:        cb,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type openMeteoResponse struct {
	Timezone         string `json:"timezone"`
	UTCOffsetSeconds int    `json:"utc_offset_seconds"`
	Hourly           struct {
		Time             []string   `json:"time"`
		Temperature2M    []*float64 `json:"temperature_2m"`
		WindSpeed10M     []*float64 `json:"windspeed_10m"`
		WindDirection10M []*float64 `json:"winddirection_10m"`
	} `json:"hourly"`
}

// FetchHourly retrieves the hourly series for a city covering pastDays back
// plus today's forecast, reshaped into tabular rows. Hours where the upstream
// reports null are dropped.
func (c *OpenMeteoClient) FetchHourly(ctx context.Context, city cities.City, pastDays int) (models.CitySeries, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.MeteoAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.CitySeries{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.callAPI(ctx, city, pastDays)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return models.CitySeries{}, err
		}
	}

	return models.CitySeries{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, city cities.City, pastDays int) (models.CitySeries, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city, pastDays)
	if err != nil {
		observability.MeteoAPICallsTotal.WithLabelValues("error").Inc()
		return models.CitySeries{}, fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	// Rate limiting and server errors surface as failures inside Execute so
	// they count toward tripping the breaker; 4xx responses do not.
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, execErr := c.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w", ErrRateLimited)
			}
			return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		duration := time.Since(start).Seconds()
		label := errorStatusLabel(err)
		observability.MeteoAPICallsTotal.WithLabelValues(label).Inc()
		observability.MeteoAPIDuration.WithLabelValues(label).Observe(duration)

		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			return models.CitySeries{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamFailure):
			return models.CitySeries{}, err
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			return models.CitySeries{}, fmt.Errorf("request timeout: %w", err)
		default:
			return models.CitySeries{}, fmt.Errorf("http request failed: %w", err)
		}
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.MeteoAPICallsTotal.WithLabelValues(status).Inc()
	observability.MeteoAPIDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return models.CitySeries{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.CitySeries{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openMeteoResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.CitySeries{}, fmt.Errorf("parse response: %w", err)
	}

	return reshape(apiResp, city.Name)
}

// reshape turns the parallel hourly arrays into sorted tabular rows.
// A missing hourly block yields an empty series; a length mismatch between
// the arrays means the payload is malformed.
func reshape(apiResp openMeteoResponse, cityName string) (models.CitySeries, error) {
	series := models.CitySeries{
		City:      cityName,
		Timezone:  apiResp.Timezone,
		FetchedAt: time.Now().UTC(),
	}

	h := apiResp.Hourly
	if len(h.Time) == 0 {
		return series, nil
	}
	if len(h.Temperature2M) != len(h.Time) ||
		len(h.WindSpeed10M) != len(h.Time) ||
		len(h.WindDirection10M) != len(h.Time) {
		return models.CitySeries{}, fmt.Errorf("%w: hourly array lengths differ", ErrMalformedResponse)
	}

	loc := resolveLocation(apiResp.Timezone, apiResp.UTCOffsetSeconds)
	series.Rows = make([]models.Observation, 0, len(h.Time))
	for i, raw := range h.Time {
		if h.Temperature2M[i] == nil || h.WindSpeed10M[i] == nil || h.WindDirection10M[i] == nil {
			continue
		}
		ts, err := time.ParseInLocation(hourLayout, raw, loc)
		if err != nil {
			return models.CitySeries{}, fmt.Errorf("%w: bad hourly timestamp %q", ErrMalformedResponse, raw)
		}
		series.Rows = append(series.Rows, models.Observation{
			City:          cityName,
			Time:          ts,
			Temperature:   *h.Temperature2M[i],
			WindSpeed:     *h.WindSpeed10M[i],
			WindDirection: *h.WindDirection10M[i],
		})
	}
	sort.Slice(series.Rows, func(i, j int) bool {
		return series.Rows[i].Time.Before(series.Rows[j].Time)
	})
	return series, nil
}

// resolveLocation maps the response timezone to a time.Location, falling back
// to the reported UTC offset when the zone database lacks the name.
func resolveLocation(tz string, offsetSeconds int) *time.Location {
	if tz != "" && tz != "GMT" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
		return time.FixedZone(tz, offsetSeconds)
	}
	if offsetSeconds != 0 {
		return time.FixedZone("local", offsetSeconds)
	}
	return time.UTC
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	return false
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, city cities.City, pastDays int) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(city.Lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(city.Lon, 'f', -1, 64))
	params.Set("hourly", "temperature_2m,windspeed_10m,winddirection_10m")
	params.Set("past_days", strconv.Itoa(pastDays))
	params.Set("forecast_days", "1")
	params.Set("timezone", "auto")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse maps the 4xx statuses Execute lets through; 429 and
// 5xx never reach here.
func (c *OpenMeteoClient) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: upstream rejected query parameters", ErrBadRequest)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func errorStatusLabel(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamFailure):
		return "server_error"
	default:
		return "error"
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Ping issues a minimal forecast request to verify the upstream is reachable.
// Used by startup checks and the health endpoint.
func (c *OpenMeteoClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}
	params := url.Values{}
	params.Set("latitude", "0")
	params.Set("longitude", "0")
	params.Set("hourly", "temperature_2m")
	params.Set("forecast_days", "1")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
