package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	pkgerrs "github.com/jamesprial/go-bsky-bridge/pkg/errors"
)

// XRPC method identifiers used by the client.
const (
	NSIDCreateSession  = "com.atproto.server.createSession"
	NSIDRefreshSession = "com.atproto.server.refreshSession"
	NSIDDeleteSession  = "com.atproto.server.deleteSession"
	NSIDResolveHandle  = "com.atproto.identity.resolveHandle"
	NSIDUploadBlob     = "com.atproto.repo.uploadBlob"
	NSIDCreateRecord   = "com.atproto.repo.createRecord"
)

// Client sends XRPC requests to a PDS.
type Client struct {
	client    *http.Client
	UserAgent string
	logger    *slog.Logger
	metrics   *Metrics

	baseMu  sync.RWMutex
	baseURL *url.URL

	limiter        *rate.Limiter
	mu             sync.Mutex
	forceWaitUntil time.Time
}

// RateLimitConfig controls how requests are throttled before reaching the PDS.
type RateLimitConfig struct {
	// RequestsPerMinute caps steady-state throughput. Defaults to 60 if zero.
	RequestsPerMinute float64
	// Burst allows short spikes above the steady-state rate. Defaults to 10 if zero.
	Burst int
}

const (
	DefaultRequestsPerMinute = 60
	DefaultRateLimitBurst    = 10
	SecondsPerMinute         = 60.0
	ParseFloatBitSize        = 64

	// responsePreviewLen bounds how much of a response body is logged.
	responsePreviewLen = 500
)

// NewClient returns a new XRPC client rooted at baseURL (for example
// "https://bsky.social/xrpc/"). If a nil httpClient is provided,
// http.DefaultClient will be used.
func NewClient(httpClient *http.Client, baseURL, userAgent string, rateCfg *RateLimitConfig, logger *slog.Logger, metrics *Metrics) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	parsedURL, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	if rateCfg == nil {
		rateCfg = &RateLimitConfig{}
	}

	return &Client{
		client:    httpClient,
		baseURL:   parsedURL,
		UserAgent: userAgent,
		logger:    logger,
		metrics:   metrics,
		limiter:   buildLimiter(*rateCfg),
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "BaseURL", Message: err.Error()}
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &pkgerrs.ConfigError{Field: "BaseURL", Message: "must be an absolute URL"}
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}
	return parsedURL, nil
}

// BaseURL returns the URL requests are currently resolved against.
func (c *Client) BaseURL() *url.URL {
	c.baseMu.RLock()
	defer c.baseMu.RUnlock()
	u := *c.baseURL
	return &u
}

// SetBaseURL points subsequent requests at a different XRPC root.
func (c *Client) SetBaseURL(raw string) error {
	parsedURL, err := parseBaseURL(raw)
	if err != nil {
		return err
	}
	c.baseMu.Lock()
	c.baseURL = parsedURL
	c.baseMu.Unlock()
	return nil
}

// NewRequest creates an XRPC request for nsid. When tok is non-nil its access
// token is sent as the bearer credential.
func (c *Client) NewRequest(ctx context.Context, method, nsid string, query url.Values, body io.Reader, tok *oauth2.Token) (*http.Request, error) {
	u, err := c.BaseURL().Parse(nsid)
	if err != nil {
		return nil, &pkgerrs.RequestError{Operation: nsid, Err: err}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &pkgerrs.RequestError{Operation: nsid, URL: u.String(), Err: err}
	}

	if tok != nil {
		tok.SetAuthHeader(req)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// NewJSONRequest creates a POST request whose body is payload encoded as JSON.
func (c *Client) NewJSONRequest(ctx context.Context, nsid string, payload any, tok *oauth2.Token) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &pkgerrs.RequestError{Operation: nsid, Message: "failed to encode request body", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, http.MethodPost, nsid, nil, body, tok)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// xrpcErrorBody is the error envelope returned by XRPC endpoints.
type xrpcErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Do sends an API request. A 2xx response body is JSON decoded into v (when v
// is non-nil); any other status is returned as *errors.APIError carrying the
// raw body.
func (c *Client) Do(req *http.Request, v any) error {
	nsid := nsidFromPath(req.URL.Path)

	if err := c.waitForRateLimit(req.Context()); err != nil {
		return &pkgerrs.RequestError{Operation: nsid, URL: req.URL.String(), Message: "rate limit wait aborted", Err: err}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordRequest(nsid, 0, time.Since(start))
		return &pkgerrs.RequestError{Operation: nsid, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	c.metrics.RecordRequest(nsid, resp.StatusCode, time.Since(start))
	c.applyRateHeaders(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &pkgerrs.RequestError{Operation: nsid, URL: req.URL.String(), Message: "failed to read response body", Err: err}
	}

	c.logger.Debug("xrpc response",
		"nsid", nsid,
		"status", resp.StatusCode,
		"response_preview", preview(body),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &pkgerrs.APIError{StatusCode: resp.StatusCode, Body: string(body)}
		var envelope xrpcErrorBody
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.ErrorCode = envelope.Error
			apiErr.Message = envelope.Message
		}
		return apiErr
	}

	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return &pkgerrs.ParseError{Operation: nsid, Message: "failed to decode response: " + err.Error(), Err: err}
		}
	}

	return nil
}

func nsidFromPath(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func preview(body []byte) string {
	if len(body) > responsePreviewLen {
		return string(body[:responsePreviewLen])
	}
	return string(body)
}

func buildLimiter(cfg RateLimitConfig) *rate.Limiter {
	requestsPerMinute := cfg.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}

	limitPerSecond := rate.Limit(requestsPerMinute / SecondsPerMinute)
	if limitPerSecond <= 0 {
		limitPerSecond = rate.Limit(1)
	}

	return rate.NewLimiter(limitPerSecond, burst)
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if err := c.waitForForcedDelay(ctx); err != nil {
		return err
	}

	if c.limiter == nil {
		return nil
	}

	return c.limiter.Wait(ctx)
}

func (c *Client) waitForForcedDelay(ctx context.Context) error {
	for {
		c.mu.Lock()
		waitUntil := c.forceWaitUntil
		c.mu.Unlock()

		if waitUntil.IsZero() {
			return nil
		}

		now := time.Now()
		if !now.Before(waitUntil) {
			c.clearForcedDelay(waitUntil)
			return nil
		}

		timer := time.NewTimer(waitUntil.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			c.clearForcedDelay(waitUntil)
		}
	}
}

func (c *Client) clearForcedDelay(previous time.Time) {
	c.mu.Lock()
	if previous.Equal(c.forceWaitUntil) {
		c.forceWaitUntil = time.Time{}
	}
	c.mu.Unlock()
}

// applyRateHeaders honours Retry-After and the PDS's ratelimit-* headers.
// ratelimit-reset is a unix timestamp in seconds.
func (c *Client) applyRateHeaders(resp *http.Response) {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseFloat(retryAfter, ParseFloatBitSize); err == nil && seconds > 0 {
			c.deferRequests(time.Duration(seconds * float64(time.Second)))
		}
	}

	remainingHeader := resp.Header.Get("Ratelimit-Remaining")
	resetHeader := resp.Header.Get("Ratelimit-Reset")
	if remainingHeader == "" || resetHeader == "" {
		return
	}

	remaining, errRemaining := strconv.ParseFloat(remainingHeader, ParseFloatBitSize)
	resetUnix, errReset := strconv.ParseInt(resetHeader, 10, 64)
	if errRemaining != nil || errReset != nil || resetUnix <= 0 {
		return
	}

	if remaining <= 1 {
		c.deferRequests(time.Until(time.Unix(resetUnix, 0)))
	}
}

func (c *Client) deferRequests(d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)

	c.mu.Lock()
	if until.After(c.forceWaitUntil) {
		c.forceWaitUntil = until
	}
	c.mu.Unlock()
}
