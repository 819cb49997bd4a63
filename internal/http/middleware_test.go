package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cache"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/service"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/traffic"
)

// newMiddlewareRouter wires the full middleware chain in front of the data
// routes, the way the server binary assembles it.
func newMiddlewareRouter(t *testing.T, meteo *mockMeteoClient, limiter *rate.Limiter, timeout time.Duration) *mux.Router {
	t.Helper()
	t.Cleanup(traffic.Reset)

	dashboard := service.NewDashboardService(meteo, cache.NewInMemoryCache(), "in_memory", 5*time.Minute, 3, false, 0)
	logger, _ := zap.NewDevelopment()
	handler := NewHandler(dashboard, meteo, cities.Default(), nil, logger, limiter, 1, 15)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if timeout > 0 {
		api.Use(TimeoutMiddleware(timeout))
	}
	api.HandleFunc("/observations", handler.GetObservations).Methods("GET")
	api.HandleFunc("/cities", handler.GetCities).Methods("GET")

	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	return router
}

func TestMiddleware_ThroughHandler(t *testing.T) {
	router := newMiddlewareRouter(t, &mockMeteoClient{hours: 3}, nil, 0)

	req := httptest.NewRequest("GET", "/api/v1/observations?cities=Riyadh&days=1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	router := newMiddlewareRouter(t, &mockMeteoClient{hours: 3}, nil, 0)

	req := httptest.NewRequest("GET", "/api/v1/cities", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
}

func TestMiddleware_CorrelationIDInErrorEnvelope(t *testing.T) {
	router := newMiddlewareRouter(t, &mockMeteoClient{}, nil, 0)

	req := httptest.NewRequest("GET", "/api/v1/observations?days=99", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	var errResp struct {
		Error struct {
			RequestID string `json:"requestId"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.RequestID != "corr-123" {
		t.Errorf("error.requestId = %q, want corr-123", errResp.Error.RequestID)
	}
}

func TestMiddleware_MetricsRecordsNonOK(t *testing.T) {
	meteo := &mockMeteoClient{err: http.ErrHandlerTimeout}
	router := newMiddlewareRouter(t, meteo, nil, 0)

	req := httptest.NewRequest("GET", "/api/v1/observations?days=1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestMiddleware_HealthThroughChain(t *testing.T) {
	router := newMiddlewareRouter(t, &mockMeteoClient{}, nil, 0)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	slowMeteo := &mockMeteoClient{hours: 3}
	slowMeteo.block = make(chan struct{})
	defer close(slowMeteo.block)

	router := newMiddlewareRouter(t, slowMeteo, nil, 50*time.Millisecond)

	req := httptest.NewRequest("GET", "/api/v1/observations?cities=Riyadh&days=1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d (timeout should surface as upstream failure)", w.Code, http.StatusBadGateway)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	limiter := rate.NewLimiter(1, 2)
	router := newMiddlewareRouter(t, &mockMeteoClient{hours: 2}, limiter, 0)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/v1/cities", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
		} else {
			if w.Code != http.StatusTooManyRequests {
				t.Errorf("request %d: status = %d, want 429", i, w.Code)
			}
			var errResp struct {
				Error struct {
					Code      string `json:"code"`
					Message   string `json:"message"`
					RequestID string `json:"requestId"`
				} `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode 429 response: %v", err)
			}
			if errResp.Error.Code != "RATE_LIMITED" {
				t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
			}
		}
	}
}

func TestRateLimitMiddleware_DenialRecordedForHealth(t *testing.T) {
	limiter := rate.NewLimiter(1, 1)
	router := newMiddlewareRouter(t, &mockMeteoClient{hours: 2}, limiter, 0)
	traffic.Reset()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/v1/cities", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	if got := traffic.DenialCount(time.Minute); got != 2 {
		t.Errorf("denials recorded = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := newMiddlewareRouter(t, &mockMeteoClient{hours: 2}, nil, 0)

	req := httptest.NewRequest("GET", "/api/v1/cities", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (nil limiter should allow)", w.Code)
	}
}

func TestMiddleware_GetRouteDefaultPath(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/foo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/foo", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestMiddleware_MetricsRoute(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(MetricsMiddleware)
	router.Handle("/metrics", observability.MetricsHandler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSubrouter_ChartRouteWithTimeoutAndRateLimit(t *testing.T) {
	meteo := &mockMeteoClient{hours: 4}
	dashboard := service.NewDashboardService(meteo, cache.NewInMemoryCache(), "in_memory", 5*time.Minute, 3, false, 0)
	logger, _ := zap.NewDevelopment()
	handler := NewHandler(dashboard, meteo, cities.Default(), nil, logger, nil, 1, 15)
	t.Cleanup(traffic.Reset)

	limiter := rate.NewLimiter(10, 10)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	chartRouter := router.PathPrefix("/charts").Subrouter()
	chartRouter.Use(RateLimitMiddleware(limiter))
	chartRouter.Use(TimeoutMiddleware(5 * time.Second))
	chartRouter.HandleFunc("/city/{city}/trend.svg", handler.GetCityTrendChart).Methods("GET")

	router.HandleFunc("/health", handler.GetHealth).Methods("GET")

	req := httptest.NewRequest("GET", "/charts/city/Riyadh/trend.svg?days=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (subrouter should route /charts/city/{city}/trend.svg)", w.Code)
	}
}
