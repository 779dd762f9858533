// Package client provides the unified HTTP client shared by all upstream
// adapters: per-destination rate limiting, circuit breaking, retries with
// Retry-After support, and a typed error taxonomy.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client request handling.
var (
	sciapiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_requests_total",
		Help: "Total upstream requests by destination and status",
	}, []string{"destination", "status"})

	sciapiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sciapi_request_duration_seconds",
		Help:    "Request duration in seconds by destination",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"destination"})

	sciapiRequestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_request_errors_total",
		Help: "Total request errors by destination and class",
	}, []string{"destination", "class"})

	sciapiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_retries_total",
		Help: "Total retry attempts by destination and reason",
	}, []string{"destination", "reason"})

	sciapiRetryDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sciapi_retry_delay_seconds",
		Help:    "Delay applied before a retry by destination",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"destination"})

	sciapiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_retry_exhausted_total",
		Help: "Total requests that exhausted the retry budget by destination",
	}, []string{"destination"})
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 10 << 20

// Response is the outcome of a successful request. The body is fully read
// before Request returns, so the underlying connection is already back in
// the pool.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Client is the unified client for one upstream API. It is safe for
// concurrent use; clients sharing a Registry also share per-destination
// rate limits and breaker state.
type Client struct {
	httpClient *http.Client
	config     Config
	registry   *Registry
	baseURL    *url.URL
	backoff    BackoffPolicy
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a client for the upstream rooted at cfg.BaseURL. Passing a nil
// registry creates a private one, which is fine for a single client but
// defeats cross-client coordination.
func New(cfg Config, registry *Registry) (*Client, error) {
	base, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	if registry == nil {
		registry = NewRegistry()
	}

	logger := log.With().
		Str("component", "client").
		Str("destination", base.Host).
		Logger()

	// Connect and read timeouts are enforced separately on the transport;
	// the overall client timeout backstops slow body reads.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.Timeout.Connect,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout.Connect,
		ResponseHeaderTimeout: cfg.Timeout.Read,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout.Connect + cfg.Timeout.Read,
		},
		config:   cfg,
		registry: registry,
		baseURL:  base,
		backoff: BackoffPolicy{
			Multiplier: cfg.Retry.BackoffMultiplier,
			Max:        cfg.Retry.BackoffMax,
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Request performs an HTTP request against the configured upstream. The path
// is resolved against the base URL, params are merged into the query string,
// and headers override the configured defaults. The call blocks in the rate
// limiter when the destination's budget is spent and fails fast when its
// circuit breaker is open.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, headers map[string]string) (*Response, error) {
	u, err := c.resolveURL(path, params)
	if err != nil {
		return nil, err
	}

	dest := c.registry.pair(u.Host, c.config)

	start := time.Now()
	defer func() {
		sciapiRequestDuration.WithLabelValues(u.Host).Observe(time.Since(start).Seconds())
	}()

	c.logger.Debug().
		Str("url", u.String()).
		Str("method", method).
		Msg("Executing request")

	// One grant per request. Retries ride on the same grant; the backoff
	// delays already pace them.
	if err := dest.limiter.Acquire(ctx); err != nil {
		return nil, &Error{
			Class:   ErrorClassCancelled,
			URL:     u.String(),
			Message: "cancelled while waiting for rate limiter",
			Err:     err,
		}
	}

	resp, err := c.doWithRetries(ctx, dest, method, u, headers)
	if err != nil {
		sciapiRequestErrorsTotal.WithLabelValues(u.Host, string(classOf(err))).Inc()
		return nil, err
	}
	return resp, nil
}

// doWithRetries runs the attempt loop under the destination's circuit
// breaker. Admission is checked once on entry; each attempt reports its
// outcome so the breaker tracks consecutive failures across requests.
func (c *Client) doWithRetries(ctx context.Context, dest *destination, method string, u *url.URL, headers map[string]string) (*Response, error) {
	decision := dest.breaker.Allow()
	if !decision.Allowed {
		sciapiRequestsTotal.WithLabelValues(u.Host, "circuit_open").Inc()
		c.logger.Warn().
			Str("url", u.String()).
			Str("state", decision.State.String()).
			Str("reason", decision.Reason).
			Msg("Request rejected by circuit breaker")
		return nil, &CircuitOpenError{Destination: u.Host}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, method, u, headers)
		if err == nil {
			dest.breaker.RecordSuccess()
			return resp, nil
		}

		// Caller-initiated cancellation is not a destination fault and
		// must not trip the breaker.
		if classOf(err) == ErrorClassCancelled {
			return nil, err
		}

		dest.breaker.RecordFailure()
		lastErr = err

		if !IsRetryable(err) || attempt >= c.config.Retry.Total {
			break
		}

		delay := c.retryDelay(err, attempt)
		class := classOf(err)
		sciapiRetriesTotal.WithLabelValues(u.Host, string(class)).Inc()
		sciapiRetryDelaySeconds.WithLabelValues(u.Host).Observe(delay.Seconds())
		c.logger.Warn().
			Str("url", u.String()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("error_class", string(class)).
			Err(err).
			Msg("Retrying request")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{
				Class:   ErrorClassCancelled,
				URL:     u.String(),
				Message: "cancelled during retry backoff",
				Err:     ctx.Err(),
			}
		case <-timer.C:
		}
	}

	if IsRetryable(lastErr) {
		sciapiRetryExhaustedTotal.WithLabelValues(u.Host).Inc()
		c.logger.Error().
			Str("url", u.String()).
			Int("attempts", c.config.Retry.Total+1).
			Err(lastErr).
			Msg("Retry budget exhausted")
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, c.config.Retry.Total+1, lastErr)
	}
	return nil, lastErr
}

// attempt performs one HTTP exchange and maps the outcome onto the error
// taxonomy. The body is always consumed so the connection can be reused.
func (c *Client) attempt(ctx context.Context, method string, u *url.URL, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, &Error{
			Class:   ErrorClassConnection,
			URL:     u.String(),
			Message: "create request",
			Err:     err,
		}
	}

	for k, v := range c.config.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		sciapiRequestsTotal.WithLabelValues(u.Host, "network_error").Inc()
		return nil, c.classifyTransportError(ctx, u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		sciapiRequestsTotal.WithLabelValues(u.Host, "body_error").Inc()
		return nil, c.classifyTransportError(ctx, u, err)
	}

	sciapiRequestsTotal.WithLabelValues(u.Host, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		c.logger.Warn().
			Str("url", u.String()).
			Int("status_code", resp.StatusCode).
			Msg("Upstream returned error status")
		return nil, &Error{
			Class:      ErrorClassHTTP,
			StatusCode: resp.StatusCode,
			URL:        u.String(),
			Message:    httpErrorDetail(resp.Status, body),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        u.String(),
	}, nil
}

// classifyTransportError distinguishes caller cancellation, timeouts, and
// connection failures. Cancellation is checked first so a context cancelled
// mid-dial is not misread as a destination fault.
func (c *Client) classifyTransportError(ctx context.Context, u *url.URL, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Error{
			Class:   ErrorClassCancelled,
			URL:     u.String(),
			Message: "request cancelled",
			Err:     ctx.Err(),
		}
	}

	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	if timedOut {
		return &Error{
			Class:   ErrorClassTimeout,
			URL:     u.String(),
			Message: "request timed out",
			Err:     err,
		}
	}

	return &Error{
		Class:   ErrorClassConnection,
		URL:     u.String(),
		Message: "connection failed",
		Err:     err,
	}
}

// retryDelay picks the wait before the next attempt. A parseable Retry-After
// header on the failed response wins; otherwise the backoff schedule applies.
func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var httpErr *Error
	if errors.As(err, &httpErr) && httpErr.RetryAfter != "" {
		if d, perr := ParseRetryAfter(httpErr.RetryAfter, c.now); perr == nil {
			return d
		}
	}
	return c.backoff.DelayFor(attempt)
}

// httpErrorDetail extracts a readable message from an error payload.
// Upstreams disagree on the field name; fall back to the status line when
// the body is not JSON or carries none of the known keys.
func httpErrorDetail(status string, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		case payload.Detail != "":
			return payload.Detail
		}
	}
	return status
}

// resolveURL joins path to the base URL and merges params into the query.
// Absolute URLs pass through unchanged so adapters can follow links the
// upstream hands back.
func (c *Client) resolveURL(path string, params url.Values) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}

	var u *url.URL
	if ref.IsAbs() {
		u = ref
	} else {
		u = c.baseURL.JoinPath(ref.Path)
		u.RawQuery = ref.RawQuery
	}

	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// RequestJSON performs the request and decodes the body into out. A body
// that is not valid JSON yields a decode-class error naming the URL.
func (c *Client) RequestJSON(ctx context.Context, method, path string, params url.Values, headers map[string]string, out any) error {
	resp, err := c.Request(ctx, method, path, params, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		sciapiRequestErrorsTotal.WithLabelValues(c.baseURL.Host, string(ErrorClassDecode)).Inc()
		return &Error{
			Class:      ErrorClassDecode,
			StatusCode: resp.StatusCode,
			URL:        resp.URL,
			Message:    "decode JSON response",
			Err:        err,
		}
	}
	return nil
}

// RequestText performs the request and returns the body as a string.
func (c *Client) RequestText(ctx context.Context, method, path string, params url.Values, headers map[string]string) (string, error) {
	resp, err := c.Request(ctx, method, path, params, headers)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Get performs a GET request against path.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, params, nil)
}

// Destination returns the host requests are attributed to by default.
func (c *Client) Destination() string {
	return c.baseURL.Host
}

// Close releases idle transport connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
