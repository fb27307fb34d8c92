package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "Stencil/pkg/errors"
	pkglog "Stencil/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultAPIKeyHeader      = "X-API-Key"
	defaultCorrelationHeader = "X-Correlation-ID"
)

// Config describes one upstream target.
type Config struct {
	// BaseURL is the target base URL; endpoints are resolved relative to it.
	BaseURL string
	// Vendor is the logical upstream name used in logs and errors.
	Vendor string
	// APIKey, when set, is attached under APIKeyHeader on every request.
	APIKey string
	// APIKeyHeader defaults to X-API-Key.
	APIKeyHeader string
	// CorrelationHeader defaults to X-Correlation-ID.
	CorrelationHeader string
	// Timeout bounds every attempt; a timed-out call counts as a failure.
	Timeout time.Duration
	// BreakerThreshold is the consecutive-failure count that opens the circuit.
	BreakerThreshold int
	// BreakerCooldown is how long the circuit stays open before a probe.
	BreakerCooldown time.Duration
	// DefaultParams are query parameters attached to every request.
	DefaultParams map[string]string
	// Fallback is the optional fallback target, tried once after a primary
	// failure or when the primary circuit is open.
	Fallback *Config
}

// targetKey keys the breaker registry. Vendor and base URL together identify
// a destination.
func (c Config) targetKey() string {
	return c.Vendor + "|" + c.BaseURL
}

// RequestOptions carries per-call parameters.
type RequestOptions struct {
	Params  map[string]string
	Body    map[string]any
	Headers map[string]string
	// AccountID and JourneyID override the values carried by the request
	// context in the persisted call record.
	AccountID string
	JourneyID string
}

// Client issues outbound requests to one upstream target. It propagates the
// active correlation ID, applies the destination's circuit breaker, falls
// back once when a fallback target is configured, and records every attempt.
type Client struct {
	cfg      Config
	http     *http.Client
	breakers *BreakerRegistry
	recorder CallRecorder
	logger   *pkglog.LogHelper
}

// New creates a client for the given target. recorder may be nil, in which
// case call records are discarded.
func New(cfg Config, breakers *BreakerRegistry, recorder CallRecorder, logger log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.CorrelationHeader == "" {
		cfg.CorrelationHeader = defaultCorrelationHeader
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		breakers: breakers,
		recorder: recorder,
		logger:   pkglog.NewLogHelper(logger),
	}
}

// Request issues an HTTP request against the configured target.
// It returns the decoded JSON payload, response headers and status code.
// Failures are returned as *errors.ExternalAPIError carrying the vendor
// name, upstream status (when any) and whether a fallback was attempted.
func (c *Client) Request(ctx context.Context, method, endpoint string, opts *RequestOptions) (map[string]any, http.Header, int, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	breaker := c.breakers.Get(c.cfg.targetKey(), c.cfg.BreakerThreshold, c.cfg.BreakerCooldown)

	if err := breaker.Allow(); err != nil {
		// Circuit open: no network attempt against the primary target.
		c.logger.Circuit("circuit open, rejecting call",
			"vendor", c.cfg.Vendor,
			"endpoint", endpoint,
			"correlation_id", pkglog.GetCorrelationID(ctx))

		c.record(ctx, c.cfg, method, endpoint, opts, attemptResult{err: err}, true, false)

		if c.cfg.Fallback != nil {
			return c.fallbackAttempt(ctx, method, endpoint, opts)
		}
		return nil, nil, 0, &pkgerrors.ExternalAPIError{
			Vendor:      c.cfg.Vendor,
			CircuitOpen: true,
			Err:         err,
		}
	}

	res := c.attempt(ctx, c.cfg, method, endpoint, opts)
	c.record(ctx, c.cfg, method, endpoint, opts, res, false, false)

	if res.err == nil && res.status < 500 {
		breaker.RecordSuccess()
		if res.status >= 400 {
			// Client errors are surfaced but do not trip the breaker.
			return res.payload, res.headers, res.status, &pkgerrors.ExternalAPIError{
				Vendor:     c.cfg.Vendor,
				StatusCode: res.status,
				Err:        fmt.Errorf("upstream returned status %d", res.status),
			}
		}
		return res.payload, res.headers, res.status, nil
	}

	breaker.RecordFailure()

	if c.cfg.Fallback != nil {
		return c.fallbackAttempt(ctx, method, endpoint, opts)
	}

	return nil, nil, res.status, &pkgerrors.ExternalAPIError{
		Vendor:     c.cfg.Vendor,
		StatusCode: res.status,
		Err:        res.failure(),
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, opts *RequestOptions) (map[string]any, http.Header, int, error) {
	return c.Request(ctx, http.MethodGet, endpoint, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, endpoint string, opts *RequestOptions) (map[string]any, http.Header, int, error) {
	return c.Request(ctx, http.MethodPost, endpoint, opts)
}

// fallbackAttempt tries the fallback target exactly once.
func (c *Client) fallbackAttempt(ctx context.Context, method, endpoint string, opts *RequestOptions) (map[string]any, http.Header, int, error) {
	fb := *c.cfg.Fallback
	if fb.Vendor == "" {
		fb.Vendor = c.cfg.Vendor + "-fallback"
	}
	if fb.Timeout <= 0 {
		fb.Timeout = c.cfg.Timeout
	}
	if fb.APIKeyHeader == "" {
		fb.APIKeyHeader = c.cfg.APIKeyHeader
	}
	if fb.CorrelationHeader == "" {
		fb.CorrelationHeader = c.cfg.CorrelationHeader
	}

	c.logger.Fallback("retrying against fallback target",
		"vendor", c.cfg.Vendor,
		"fallback_vendor", fb.Vendor,
		"endpoint", endpoint,
		"correlation_id", pkglog.GetCorrelationID(ctx))

	breaker := c.breakers.Get(fb.targetKey(), fb.BreakerThreshold, fb.BreakerCooldown)

	res := c.attempt(ctx, fb, method, endpoint, opts)
	c.record(ctx, fb, method, endpoint, opts, res, false, true)

	if res.err == nil && res.status < 500 {
		breaker.RecordSuccess()
		if res.status >= 400 {
			return res.payload, res.headers, res.status, &pkgerrors.ExternalAPIError{
				Vendor:            c.cfg.Vendor,
				StatusCode:        res.status,
				FallbackAttempted: true,
				Err:               fmt.Errorf("fallback returned status %d", res.status),
			}
		}
		return res.payload, res.headers, res.status, nil
	}

	breaker.RecordFailure()

	return nil, nil, res.status, &pkgerrors.ExternalAPIError{
		Vendor:            c.cfg.Vendor,
		StatusCode:        res.status,
		FallbackAttempted: true,
		Err:               res.failure(),
	}
}

// attemptResult is the outcome of one network attempt.
type attemptResult struct {
	payload    map[string]any
	headers    http.Header
	status     int
	durationMs float64
	url        string
	sentHdrs   map[string]string
	err        error
}

// failure returns the cause to wrap into the typed error.
func (r attemptResult) failure() error {
	if r.err != nil {
		return r.err
	}
	return fmt.Errorf("upstream returned status %d", r.status)
}

// attempt performs one bounded HTTP call against the given target.
func (c *Client) attempt(ctx context.Context, cfg Config, method, endpoint string, opts *RequestOptions) attemptResult {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")

	var bodyReader io.Reader
	if opts.Body != nil {
		buf, err := json.Marshal(opts.Body)
		if err != nil {
			return attemptResult{url: url, err: fmt.Errorf("failed to encode request body: %w", err)}
		}
		bodyReader = bytes.NewReader(buf)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return attemptResult{url: url, err: fmt.Errorf("failed to build request: %w", err)}
	}

	// Query parameters: target defaults first, per-call overrides last.
	q := req.URL.Query()
	for k, v := range cfg.DefaultParams {
		q.Set(k, v)
	}
	for k, v := range opts.Params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.APIKey != "" {
		req.Header.Set(cfg.APIKeyHeader, cfg.APIKey)
	}

	// Correlation propagation: the outbound call carries the same
	// correlation ID as the inbound request that triggered it.
	if corrID := pkglog.GetCorrelationID(ctx); corrID != "" {
		req.Header.Set(cfg.CorrelationHeader, corrID)
		req.Header.Set("X-Request-ID", corrID)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	sentHdrs := make(map[string]string, len(req.Header))
	for k := range req.Header {
		sentHdrs[k] = req.Header.Get(k)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		return attemptResult{url: url, sentHdrs: sentHdrs, durationMs: durationMs, err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{
			url: url, sentHdrs: sentHdrs, status: resp.StatusCode,
			headers: resp.Header, durationMs: durationMs,
			err: fmt.Errorf("failed to read response body: %w", err),
		}
	}

	payload := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = map[string]any{"raw_content": string(raw)}
		}
	}

	return attemptResult{
		payload:    payload,
		headers:    resp.Header,
		status:     resp.StatusCode,
		durationMs: durationMs,
		url:        url,
		sentHdrs:   sentHdrs,
	}
}

// record hands one attempt to the call recorder, secrets redacted.
func (c *Client) record(ctx context.Context, cfg Config, method, endpoint string, opts *RequestOptions, res attemptResult, circuitOpen, fallbackUsed bool) {
	reqCtx := pkglog.GetRequestContext(ctx)

	accountID := opts.AccountID
	if accountID == "" {
		accountID = reqCtx.AccountID
	}
	journeyID := opts.JourneyID
	if journeyID == "" {
		journeyID = reqCtx.JourneyID
	}

	var respHeaders map[string]string
	if res.headers != nil {
		respHeaders = make(map[string]string, len(res.headers))
		for k := range res.headers {
			respHeaders[k] = res.headers.Get(k)
		}
	}

	rec := &CallRecord{
		CorrelationID:   reqCtx.CorrelationID,
		CallID:          uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Vendor:          cfg.Vendor,
		Method:          strings.ToUpper(method),
		URL:             res.url,
		Endpoint:        endpoint,
		RequestParams:   opts.Params,
		RequestHeaders:  pkglog.SanitizeHeaders(res.sentHdrs),
		RequestBody:     pkglog.SanitizeBody(opts.Body),
		StatusCode:      res.status,
		ResponseHeaders: pkglog.SanitizeHeaders(respHeaders),
		ResponseBody:    pkglog.SanitizeBody(res.payload),
		DurationMs:      res.durationMs,
		AccountID:       accountID,
		JourneyID:       journeyID,
		CircuitOpen:     circuitOpen,
		FallbackUsed:    fallbackUsed,
	}
	if res.err != nil {
		rec.ErrorMessage = res.err.Error()
	}

	c.recorder.RecordCall(ctx, rec)

	if !circuitOpen {
		c.logger.VendorCall(ctx, cfg.Vendor, rec.Method, res.url, res.status, int64(res.durationMs),
			"fallback_used", fallbackUsed)
	}
}
