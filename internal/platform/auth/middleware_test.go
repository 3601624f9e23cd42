package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, method jwt.SigningMethod, claims Claims, key any) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "practitioner-1",
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"fhir"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: "user/Patient.read user/Observation.read",
	}
}

func run(t *testing.T, cfg JWTConfig, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec, called
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://auth.example.com", Audience: "fhir"}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example.com"
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "missing authorization header"},
		{"no bearer prefix", "Token abc123", "invalid authorization format"},
		{"missing token", "Bearer", "invalid authorization format"},
		{"empty token", "Bearer ", "invalid authorization format"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization format"},
		{"garbage", "Bearer not.a.jwt", "invalid token"},
		{"wrong key", "Bearer " + createTestToken(t, jwt.SigningMethodHS256, validClaims(), []byte("other-key")), "invalid token"},
		{"none algorithm", "Bearer " + createTestToken(t, jwt.SigningMethodNone, validClaims(), jwt.UnsafeAllowNoneSignatureType), "invalid token"},
		{"expired", "Bearer " + createTestToken(t, jwt.SigningMethodHS256, expired, testSigningKey), "invalid token"},
		{"wrong issuer", "Bearer " + createTestToken(t, jwt.SigningMethodHS256, wrongIssuer, testSigningKey), "invalid token"},
		{"wrong audience", "Bearer " + createTestToken(t, jwt.SigningMethodHS256, wrongAudience, testSigningKey), "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, called := run(t, cfg, tt.header)
			if called {
				t.Fatal("handler must not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, `"OperationOutcome"`) || !strings.Contains(body, tt.want) {
				t.Errorf("body = %s, want diagnostics %q", body, tt.want)
			}
			if rec.Header().Get(echo.HeaderWWWAuthenticate) == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://auth.example.com", Audience: "fhir"}
	token := createTestToken(t, jwt.SigningMethodHS256, validClaims(), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	req.Header.Set(echo.HeaderAuthorization, "bearer "+token)
	c := e.NewContext(req, httptest.NewRecorder())

	var (
		subject string
		scopes  []string
	)
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		subject = SubjectFromContext(c.Request().Context())
		scopes = ScopesFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "practitioner-1" {
		t.Errorf("subject = %q", subject)
	}
	if len(scopes) != 2 || scopes[0] != "user/Patient.read" {
		t.Errorf("scopes = %v", scopes)
	}
}
