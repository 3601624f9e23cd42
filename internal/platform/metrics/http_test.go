package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/fhir/:type/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fhir/Patient/"+id, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/fhir/:type/:id", "200")); got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestMiddleware_RecordsErrorStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/teapot", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/teapot", "418")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)
	m.requests.WithLabelValues("GET", "/x", "200").Inc()

	e := echo.New()
	e.GET("/metrics", Handler(reg))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fhir_http_requests_total") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}
