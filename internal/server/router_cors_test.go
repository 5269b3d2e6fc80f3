package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveCORS(policy originPolicy, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(policy.corsMiddleware())
	router.Handle(method, "/rooms/r1", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(method, "/rooms/r1", http.NoBody)
	request.Header.Set("Origin", origin)
	if method == http.MethodOptions {
		request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		request.Header.Set("Access-Control-Request-Headers", "Authorization")
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsListedOriginWithCredentials(t *testing.T) {
	policy := newOriginPolicy([]string{"https://app.example.com/"})

	recorder := serveCORS(policy, http.MethodOptions, "https://app.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodDelete) {
		t.Fatalf("expected DELETE to be allowed, got %q", allowMethods)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled for a listed origin")
	}
}

func TestCORSMiddlewareRefusesForeignOrigin(t *testing.T) {
	policy := newOriginPolicy([]string{"https://app.example.com"})

	recorder := serveCORS(policy, http.MethodDelete, "https://evil.example")

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be refused, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "" {
		t.Fatalf("expected no allow origin for a foreign site, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") == "true" {
		t.Fatalf("expected no credentials for a foreign site")
	}
}

func TestCORSMiddlewareWithoutAllowListOmitsCredentials(t *testing.T) {
	recorder := serveCORS(newOriginPolicy(nil), http.MethodDelete, "https://evil.example")

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected open cors to pass the request, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") == "true" {
		t.Fatalf("credentials must not be allowed for every origin")
	}
}

func TestOriginPolicyAllows(t *testing.T) {
	policy := newOriginPolicy([]string{"https://app.example.com"})
	cases := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "no origin", origin: "", want: true},
		{name: "same host", origin: "http://api.example.com", want: true},
		{name: "listed", origin: "HTTPS://APP.EXAMPLE.COM", want: true},
		{name: "foreign", origin: "https://evil.example", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "http://api.example.com/realtime", http.NoBody)
			if tc.origin != "" {
				request.Header.Set("Origin", tc.origin)
			}
			if got := policy.allows(request); got != tc.want {
				t.Fatalf("allows(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}
