package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// testConfig returns a config tuned for fast tests: generous rate limit,
// retry delays capped at 20ms.
func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.RateLimit = RateLimitConfig{MaxCalls: 100, Period: time.Second}
	cfg.Retry = RetryConfig{Total: 3, BackoffMultiplier: 2.0, BackoffMax: 20 * time.Millisecond}
	cfg.Timeout = TimeoutConfig{Connect: 2 * time.Second, Read: 2 * time.Second}
	return cfg
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, true},
		{"base url without host", func(c *Config) { c.BaseURL = "/just/a/path" }, true},
		{"negative max calls", func(c *Config) { c.RateLimit.MaxCalls = -1 }, true},
		{"negative retry total", func(c *Config) { c.Retry.Total = -1 }, true},
		{"sub-unit backoff multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("https://api.example.org")
			tt.mutate(&cfg)

			_, err := New(cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://www.ebi.ac.uk/chembl/api/data")

	if cfg.BaseURL != "https://www.ebi.ac.uk/chembl/api/data" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.RateLimit.MaxCalls != DefaultMaxCalls {
		t.Errorf("RateLimit.MaxCalls = %d, want %d", cfg.RateLimit.MaxCalls, DefaultMaxCalls)
	}
	if cfg.Retry.Total != DefaultRetryTotal {
		t.Errorf("Retry.Total = %d, want %d", cfg.Retry.Total, DefaultRetryTotal)
	}
	if cfg.Retry.BackoffMax != DefaultBackoffMax {
		t.Errorf("Retry.BackoffMax = %v, want %v", cfg.Retry.BackoffMax, DefaultBackoffMax)
	}
	if cfg.Timeout.Connect != DefaultConnectTimeout || cfg.Timeout.Read != DefaultReadTimeout {
		t.Errorf("Timeout = %+v", cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
}

func TestNew_ZeroValuesDefaulted(t *testing.T) {
	c, err := New(Config{BaseURL: "https://api.example.org"}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if c.config.RateLimit.MaxCalls != DefaultMaxCalls {
		t.Errorf("MaxCalls = %d, want %d", c.config.RateLimit.MaxCalls, DefaultMaxCalls)
	}
	if c.config.Retry.BackoffMultiplier != DefaultBackoffMultiplier {
		t.Errorf("BackoffMultiplier = %g, want %g", c.config.Retry.BackoffMultiplier, DefaultBackoffMultiplier)
	}
	if c.config.Breaker.FailureThreshold != DefaultFailureThreshold {
		t.Errorf("FailureThreshold = %d, want %d", c.config.Breaker.FailureThreshold, DefaultFailureThreshold)
	}
	if c.config.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q, want default", c.config.UserAgent)
	}
}

func TestRequest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"molecules": [{"chembl_id": "CHEMBL25"}]}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	resp, err := c.Request(context.Background(), http.MethodGet, "molecule", nil, nil)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), "CHEMBL25") {
		t.Errorf("Body = %q, want molecule payload", resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.HasSuffix(resp.URL, "/molecule") {
		t.Errorf("URL = %q, want path /molecule", resp.URL)
	}
}

func TestRequest_HeadersApplied(t *testing.T) {
	var gotUA, gotKey, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("X-Api-Key")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.DefaultHeaders = map[string]string{"X-Api-Key": "secret"}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = c.Request(context.Background(), http.MethodGet, "items", nil,
		map[string]string{"Accept": "application/xml"})
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	if gotUA != cfg.UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, cfg.UserAgent)
	}
	if gotKey != "secret" {
		t.Errorf("X-Api-Key = %q, want %q", gotKey, "secret")
	}
	if gotAccept != "application/xml" {
		t.Errorf("Accept = %q, per-call header should win", gotAccept)
	}
}

func TestRequest_ParamsMerged(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	params := url.Values{"q": {"kinase"}, "limit": {"20"}}
	_, err = c.Request(context.Background(), http.MethodGet, "search?format=json", params, nil)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	if gotQuery.Get("format") != "json" {
		t.Errorf("format = %q, query in path should survive", gotQuery.Get("format"))
	}
	if gotQuery.Get("q") != "kinase" || gotQuery.Get("limit") != "20" {
		t.Errorf("query = %v, want merged params", gotQuery)
	}
}

func TestRequest_RetryOnServerError(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	resp, err := c.Request(context.Background(), http.MethodGet, "flaky", nil, nil)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3 (two failures then success)", requests)
	}
}

func TestRequest_NoRetryOnClientError(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "no such accession"}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = c.Request(context.Background(), http.MethodGet, "missing", nil, nil)
	if err == nil {
		t.Fatal("Request() should fail on 404")
	}

	if requests != 1 {
		t.Errorf("requests = %d, want 1 (no retry on 4xx)", requests)
	}

	code, ok := StatusCode(err)
	if !ok || code != http.StatusNotFound {
		t.Errorf("StatusCode() = %d, %v, want 404, true", code, ok)
	}
	if !strings.Contains(err.Error(), "no such accession") {
		t.Errorf("error = %q, want upstream detail", err)
	}
}

func TestRequest_RetryExhausted(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retry.Total = 2

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = c.Request(context.Background(), http.MethodGet, "broken", nil, nil)
	if err == nil {
		t.Fatal("Request() should fail once retries are exhausted")
	}

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error should wrap ErrRetryExhausted, got %v", err)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3 (initial + 2 retries)", requests)
	}

	code, ok := StatusCode(err)
	if !ok || code != http.StatusInternalServerError {
		t.Errorf("StatusCode() = %d, %v, want 500, true", code, ok)
	}
}

func TestRequest_RetryAfterOverridesBackoff(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	// Leave the backoff schedule slow so only an honored Retry-After can
	// finish the request quickly.
	cfg.Retry = RetryConfig{Total: 1, BackoffMultiplier: 2.0, BackoffMax: 30 * time.Second}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	start := time.Now()
	_, err = c.Request(context.Background(), http.MethodGet, "limited", nil, nil)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if elapsed >= 500*time.Millisecond {
		t.Errorf("elapsed = %v, Retry-After: 0 should preempt the 1s backoff", elapsed)
	}
}

func TestRequest_CircuitBreakerFailFast(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retry = RetryConfig{Total: 0, BackoffMultiplier: 2.0, BackoffMax: 30 * time.Second}
	cfg.Breaker.FailureThreshold = 2

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Request(ctx, http.MethodGet, "down", nil, nil); err == nil {
			t.Fatalf("request %d should fail", i+1)
		}
	}
	if requests != 2 {
		t.Fatalf("requests = %d, want 2 before the breaker opens", requests)
	}

	_, err = c.Request(ctx, http.MethodGet, "down", nil, nil)
	if !IsCircuitOpen(err) {
		t.Fatalf("error = %v, want circuit open", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, open breaker must not reach the network", requests)
	}

	var coe *CircuitOpenError
	if errors.As(err, &coe) && coe.Destination == "" {
		t.Error("CircuitOpenError should carry the destination host")
	}
}

func TestRequest_CancelledDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	registry := NewRegistry()
	c, err := New(testConfig(server.URL), registry)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = c.Request(ctx, http.MethodGet, "slow", nil, nil)
	if err == nil {
		t.Fatal("Request() should fail when cancelled")
	}
	if classOf(err) != ErrorClassCancelled {
		t.Errorf("class = %q, want cancelled", classOf(err))
	}

	host := strings.TrimPrefix(server.URL, "http://")
	snap, ok := registry.BreakerSnapshot(host)
	if !ok {
		t.Fatalf("no breaker tracked for %s", host)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, cancellation must not count as a destination failure", snap.ConsecutiveFailures)
	}
}

func TestRequest_ReadTimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Retry.Total = 0
	cfg.Timeout = TimeoutConfig{Connect: time.Second, Read: 100 * time.Millisecond}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = c.Request(context.Background(), http.MethodGet, "sluggish", nil, nil)
	if err == nil {
		t.Fatal("Request() should time out")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout() = false for %v", err)
	}
}

func TestRequest_ConnectionErrorClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	cfg := testConfig(baseURL)
	cfg.Retry.Total = 0

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	_, err = c.Request(context.Background(), http.MethodGet, "anything", nil, nil)
	if err == nil {
		t.Fatal("Request() should fail against a closed server")
	}
	if !IsConnection(err) {
		t.Errorf("IsConnection() = false for %v", err)
	}
}

func TestRequestJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count": 42, "results": ["a", "b"]}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var out struct {
		Count   int      `json:"count"`
		Results []string `json:"results"`
	}
	if err := c.RequestJSON(context.Background(), http.MethodGet, "data", nil, nil, &out); err != nil {
		t.Fatalf("RequestJSON() error: %v", err)
	}

	if out.Count != 42 || len(out.Results) != 2 {
		t.Errorf("decoded = %+v", out)
	}
}

func TestRequestJSON_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance page</html>`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var out map[string]any
	err = c.RequestJSON(context.Background(), http.MethodGet, "data", nil, nil, &out)
	if err == nil {
		t.Fatal("RequestJSON() should fail on non-JSON body")
	}

	if classOf(err) != ErrorClassDecode {
		t.Errorf("class = %q, want decode", classOf(err))
	}
	if !strings.Contains(err.Error(), server.URL) {
		t.Errorf("error = %q, should name the offending URL", err)
	}
}

func TestRequestText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("P12345\tHuman\tActive"))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	text, err := c.RequestText(context.Background(), http.MethodGet, "export.tsv", nil, nil)
	if err != nil {
		t.Fatalf("RequestText() error: %v", err)
	}
	if text != "P12345\tHuman\tActive" {
		t.Errorf("text = %q", text)
	}
}

func TestResolveURL(t *testing.T) {
	c, err := New(testConfig("https://api.example.org/api"), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		params url.Values
		want   string
	}{
		{"relative path", "v1/items", nil, "https://api.example.org/api/v1/items"},
		{"leading slash appends under base", "/v1/items", nil, "https://api.example.org/api/v1/items"},
		{"absolute url passthrough", "https://other.example.org/x", nil, "https://other.example.org/x"},
		{"params added", "v1/items", url.Values{"q": {"tp53"}}, "https://api.example.org/api/v1/items?q=tp53"},
		{"path query preserved", "v1/items?format=json", url.Values{"page": {"2"}}, "https://api.example.org/api/v1/items?format=json&page=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := c.resolveURL(tt.path, tt.params)
			if err != nil {
				t.Fatalf("resolveURL() error: %v", err)
			}
			if u.String() != tt.want {
				t.Errorf("resolveURL() = %q, want %q", u.String(), tt.want)
			}
		})
	}
}

func TestGet(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	resp, err := c.Get(context.Background(), "status", nil)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("method = %q, want GET", gotMethod)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
}

func TestDestination(t *testing.T) {
	c, err := New(testConfig("https://eutils.ncbi.nlm.nih.gov/entrez/eutils"), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := c.Destination(); got != "eutils.ncbi.nlm.nih.gov" {
		t.Errorf("Destination() = %q", got)
	}
}
