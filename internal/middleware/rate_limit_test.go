package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
)

// TestRateLimitByIP_AllowsUnderLimit verifies requests under the limit pass through
func TestRateLimitByIP_AllowsUnderLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/stats", nil)
		req.RemoteAddr = "192.168.1.1:8080"
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, recorder.Code)
		}
	}
}

// TestRateLimitByIP_RejectsOverLimitWithJSON verifies the limit handler writes the JSON error envelope
func TestRateLimitByIP_RejectsOverLimitWithJSON(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var recorder *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/stats", nil)
		req.RemoteAddr = "192.168.1.2:8080"
		recorder = httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
	}

	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	if !strings.Contains(recorder.Body.String(), "Rate limit exceeded") {
		t.Errorf("unexpected body: %s", recorder.Body.String())
	}
}

// TestRateLimitByIP_SeparateKeysPerIP verifies one client's limit does not affect another
func TestRateLimitByIP_SeparateKeysPerIP(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, addr := range []string{"10.0.0.1:1000", "10.0.0.2:1000"} {
		req := httptest.NewRequest("GET", "/stats", nil)
		req.RemoteAddr = addr
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", addr, recorder.Code)
		}
	}
}

// TestRateLimitByIP_IgnoresSpoofedForwardedFor verifies untrusted peers cannot rotate keys with headers
func TestRateLimitByIP_IgnoresSpoofedForwardedFor(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1}, &pkghttp.IPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest("GET", "/stats", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		req.Header.Set("X-Forwarded-For", spoofed)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		codes = append(codes, recorder.Code)
	}

	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected second request to be limited, got %v", codes)
	}
}
