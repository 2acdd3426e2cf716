package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"mcpgateway/pkg/apierr"
)

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]string{"ok": "yes"})
	if rr.Code != http.StatusCreated || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
}

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"auth", apierr.New(apierr.KindAuth, "invalid token"), http.StatusUnauthorized, "invalid token"},
		{"authz", apierr.New(apierr.KindAuthz, "access denied"), http.StatusForbidden, "access denied"},
		{"internal_hidden", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rr *httptest.ResponseRecorder
			h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				rr = httptest.NewRecorder()
				WriteError(rr, r, tt.err)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
			if rr.Code != tt.status {
				t.Fatalf("expected %d got %d", tt.status, rr.Code)
			}
			var body ErrorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.msg || body.RequestID == "" {
				t.Fatalf("unexpected body: %+v", body)
			}
		})
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	h := middleware.RequestID(RequestIDHeader(SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, k := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rr.Header().Get(k) == "" {
			t.Fatalf("missing header %s", k)
		}
	}
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatal("request id not echoed")
	}
}

func TestCORSMiddlewareAllowlist(t *testing.T) {
	h := CORSMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatal("allowed origin must be echoed")
	}

	pre := httptest.NewRequest(http.MethodOptions, "/", nil)
	pre.Header.Set("Origin", "https://evil.example.com")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, pre)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unknown origin preflight must be rejected, got %d", rr.Code)
	}
}
