package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/config"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/db"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Port:           "8000",
		Env:            "test",
		BaseURL:        "http://localhost:8000/fhir",
		StoreDriver:    "memory",
		DBMaxConns:     20,
		DBSchema:       "public",
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1M",
		CORSOrigins:    []string{"*"},
	}
}

func testServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	registry, err := searchparam.Default()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	promReg := prometheus.NewRegistry()
	b, err := openBackend(context.Background(), cfg, promReg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	return newServer(cfg, b, registry, promReg, zerolog.Nop())
}

func serve(h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_RoundTrip(t *testing.T) {
	h := testServer(t, memoryConfig())

	rec := serve(h, http.MethodPost, "/fhir/Patient", `{"resourceType":"Patient","id":"p1"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on the response")
	}

	rec = serve(h, http.MethodGet, "/fhir/Patient/p1", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"p1"`) {
		t.Fatalf("read: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"store":"memory"`) {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodGet, "/metrics", "", nil)
	body := rec.Body.String()
	if !strings.Contains(body, `fhir_http_requests_total{method="POST",route="/fhir/:type",status="201"} 1`) {
		t.Errorf("missing request counter:\n%s", body)
	}
	if !strings.Contains(body, "fhir_docstore_operations_total") {
		t.Errorf("missing store metrics:\n%s", body)
	}
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := memoryConfig()
	cfg.BodyLimit = "64"
	h := testServer(t, cfg)

	big := `{"resourceType":"Patient","text":{"div":"` + strings.Repeat("x", 200) + `"}}`
	if rec := serve(h, http.MethodPost, "/fhir/Patient", big, nil); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestServer_Auth(t *testing.T) {
	cfg := memoryConfig()
	cfg.AuthSigningKey = "server-test-key"
	h := testServer(t, cfg)

	if rec := serve(h, http.MethodGet, "/fhir/Patient", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health must stay public, got %d", rec.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(cfg.AuthSigningKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := serve(h, http.MethodGet, "/fhir/Patient", "", http.Header{"Authorization": {"Bearer " + token}})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with a token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPrintRegistry(t *testing.T) {
	reg, err := searchparam.Parse([]byte(`
Observation:subject:
  path: Observation.subject
  target: [Patient, Group]
Encounter:patient:
  path: Encounter.subject
  target: [Patient]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var buf bytes.Buffer
	printRegistry(&buf, reg)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "Encounter:patient") || !strings.HasPrefix(lines[2], "Observation:subject") {
		t.Errorf("rows not sorted: %q", lines)
	}
	if !strings.Contains(lines[2], "Patient,Group") {
		t.Errorf("targets missing: %q", lines[2])
	}
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_resources.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_resources_text.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2024-05-06 07:08:09") || !strings.Contains(out, "pending") {
		t.Errorf("output = %q", out)
	}
}

func TestExplainQuery(t *testing.T) {
	var buf bytes.Buffer
	params := url.Values{"_count": {"5"}, "_sort": {"-_lastUpdated"}}
	if err := explainQuery(&buf, "Patient", params, "fhir"); err != nil {
		t.Fatalf("explainQuery: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `FROM "fhir"."resources"`) {
		t.Errorf("missing table: %s", out)
	}
	if !strings.Contains(out, "LIMIT") || !strings.Contains(out, "$1 = ") {
		t.Errorf("missing pagination or arguments: %s", out)
	}
	if !strings.Contains(out, "status:map[$ne:inactive]") || !strings.Contains(out, "NOT ") {
		t.Errorf("soft-deleted rows not excluded: %s", out)
	}
}
