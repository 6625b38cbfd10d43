package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testConfig() Config {
	return Config{
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RateLimit:      rate.Inf,
		RateBurst:      1,
	}
}

func TestGetJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["ids[]"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Errorf("unexpected ids query: %v", got)
		}
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("missing custom header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil)

	var out struct {
		Value int `json:"value"`
	}
	err := client.GetJSON(context.Background(), RequestConfig{
		URL:     server.URL,
		Query:   url.Values{"ids[]": {"a", "b"}},
		Headers: map[string]string{"X-Test": "yes"},
	}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 42 {
		t.Errorf("expected 42, got %d", out.Value)
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil)
	var out map[string]any
	if err := client.GetJSON(context.Background(), RequestConfig{URL: server.URL}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestGetJSON_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`price ids not found`))
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil)
	var out map[string]any
	err := client.GetJSON(context.Background(), RequestConfig{URL: server.URL}, &out)
	if err == nil {
		t.Fatal("expected error")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", statusErr.StatusCode)
	}
	if IsRetryable(err) {
		t.Error("404 should not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestGetJSON_MalformedBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil)
	var out map[string]any
	if err := client.GetJSON(context.Background(), RequestConfig{URL: server.URL}, &out); err == nil {
		t.Fatal("expected parse error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("parse errors should not be retried, got %d calls", got)
	}
}

func TestGetJSON_ExhaustsRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testConfig(), nil)
	var out map[string]any
	err := client.GetJSON(context.Background(), RequestConfig{URL: server.URL}, &out)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected wrapped 429 StatusError, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 1 + 2 retries, got %d calls", got)
	}
}
