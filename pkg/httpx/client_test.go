package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRequestJSONRetriesOn5xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	status, body, err := RequestJSON(context.Background(), srv.Client(), Request{
		Method: http.MethodPost, URL: srv.URL, Body: []byte(`{"k":"v"}`), Retries: 1, RetryDelay: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if status != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("unexpected response %d %s", status, body)
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts got %d", attempts.Load())
	}
}

func TestRequestJSONZeroRetriesSendsOnce(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if status != http.StatusBadGateway || attempts.Load() != 1 {
		t.Fatalf("expected a single 502 attempt, got status=%d attempts=%d", status, attempts.Load())
	}
}

func TestRequestJSONNoRetryOn4xx(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), Request{Method: http.MethodGet, URL: srv.URL, Retries: 3})
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if status != http.StatusBadRequest || attempts.Load() != 1 {
		t.Fatalf("expected one 400 attempt, got status=%d attempts=%d", status, attempts.Load())
	}
}

func TestRequestJSONSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") != "u-1" || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), Request{
		Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`), Headers: map[string]string{"X-User-ID": "u-1"},
	})
	if err != nil || status != http.StatusNoContent {
		t.Fatalf("expected headers to be forwarded, status=%d err=%v", status, err)
	}
}

func TestRequestJSONTransportErrorAndLimits(t *testing.T) {
	_, _, err := RequestJSON(context.Background(), &http.Client{Timeout: 50 * time.Millisecond}, Request{
		Method: http.MethodGet, URL: "http://127.0.0.1:1", Retries: 1, RetryDelay: time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected transport error")
	}

	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer big.Close()
	if _, _, err := RequestJSON(context.Background(), big.Client(), Request{Method: http.MethodGet, URL: big.URL, MaxBytes: 16}); err == nil {
		t.Fatal("expected body limit error")
	}

	if _, _, err := RequestJSON(context.Background(), nil, Request{Method: "BAD METHOD", URL: "http://x"}); err == nil {
		t.Fatal("expected request construction error")
	}
}

func TestRequestJSONStopsRetryingOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := RequestJSON(ctx, srv.Client(), Request{Method: http.MethodGet, URL: srv.URL, Retries: 1, RetryDelay: time.Second})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
