// Package remote provides the retrying outbound HTTP transport used to
// probe references, with backoff, Retry-After compliance, user-agent
// rotation and optional proxy routing.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/metrics"
	"github.com/jonesrussell/linkscan/internal/proxy"
)

const (
	// Transport tuning defaults.
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second

	// Retry defaults.
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second

	// maxDiscardBytes bounds how much of a probed body is drained so the
	// connection can be reused.
	maxDiscardBytes = 64 * 1024

	defaultUserAgent = "linkscan/1.0 (+https://github.com/jonesrussell/linkscan)"
)

// ErrHostNotSafe is returned when a probe target is a private, loopback or
// link-local host and private hosts are not allowed.
var ErrHostNotSafe = errors.New(ReasonHostNotSafe)

// Response is the probe-relevant slice of an HTTP response. Bodies are
// drained and closed by the client.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
}

// Config configures a Client.
type Config struct {
	HeadTimeout   TimeoutConstraints
	GetTimeout    TimeoutConstraints
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	UserAgents    []string
	RetryStatuses []int
}

// SetDefaults fills zero values with sane defaults.
func (c *Config) SetDefaults() {
	if c.HeadTimeout == (TimeoutConstraints{}) {
		c.HeadTimeout = TimeoutConstraints{Default: 5, Min: 1, Max: 30}
	}
	if c.GetTimeout == (TimeoutConstraints{}) {
		c.GetTimeout = TimeoutConstraints{Default: 10, Min: 1, Max: 60}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = []string{defaultUserAgent}
	}
}

// proxySelectionKey carries the per-request proxy selection through the
// transport's Proxy callback.
type proxySelectionKey struct{}

// Client performs HEAD/GET probes with retry and backoff.
type Client struct {
	cfg      Config
	http     *http.Client
	proxies  *proxy.Pool
	recorder *metrics.Recorder
	log      logger.Logger
	uaCursor atomic.Uint64
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewClient creates a Client. pool may be nil when proxying is disabled.
func NewClient(cfg Config, pool *proxy.Pool, recorder *metrics.Recorder, log logger.Logger) *Client {
	cfg.SetDefaults()

	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		Proxy: func(req *http.Request) (*url.URL, error) {
			sel, ok := req.Context().Value(proxySelectionKey{}).(*proxy.Selection)
			if !ok || sel == nil {
				return nil, nil
			}
			return url.Parse(sel.Entry.URL)
		},
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: transport},
		proxies:  pool,
		recorder: recorder,
		log:      log,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Head performs a HEAD probe.
func (c *Client) Head(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return c.do(ctx, http.MethodHead, rawURL, opts)
}

// Get performs a GET probe.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, opts)
}

func (c *Client) do(ctx context.Context, method, rawURL string, opts Options) (*Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	if !opts.AllowPrivateHosts && !HostIsPublic(target.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotSafe, target.Hostname())
	}

	constraints := c.cfg.GetTimeout
	if method == http.MethodHead {
		constraints = c.cfg.HeadTimeout
	}
	timeout := time.Duration(NormalizeTimeout(opts.Timeout, constraints) * float64(time.Second))

	maxAttempts := c.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	userAgent := headerValue(opts.Headers, "User-Agent")
	if userAgent == "" {
		userAgent = c.nextUserAgent()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := c.now()
		resp, attemptErr := c.attempt(ctx, method, target, opts, timeout, userAgent)
		elapsed := c.now().Sub(started)

		retryable := c.isRetryable(resp, attemptErr, opts.RetryStatuses)
		willRetry := retryable && attempt < maxAttempts

		delay := c.backoffDelay(attempt)
		if resp != nil {
			if after, ok := parseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
				delay = after
			}
		}

		c.emitAttempt(method, target, attempt, maxAttempts, resp, attemptErr, willRetry, delay, userAgent, elapsed)

		if !retryable || !willRetry {
			if attemptErr != nil {
				return nil, attemptErr
			}
			return resp, nil
		}

		lastErr = attemptErr
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %w", sleepErr, lastErr)
			}
			return resp, sleepErr
		}
	}

	return nil, lastErr
}

// attempt performs one request, draining and closing the body.
func (c *Client) attempt(
	ctx context.Context,
	method string,
	target *url.URL,
	opts Options,
	timeout time.Duration,
	userAgent string,
) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sel *proxy.Selection
	if c.proxies != nil {
		var err error
		sel, err = c.proxies.Acquire(attemptCtx, proxy.ReqContext{Host: target.Hostname(), Region: opts.Region})
		if err != nil {
			c.log.Warn("proxy acquisition failed", logger.Error(err))
		}
		if sel != nil {
			attemptCtx = context.WithValue(attemptCtx, proxySelectionKey{}, sel)
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	// The selected proxy's custom headers and credentials ride on the
	// request itself; the transport's Proxy callback only routes it.
	headers := opts.Headers
	if sel != nil {
		headers = proxy.InjectProxyArguments(target.String(), proxy.Args{Headers: headers}, sel).Headers
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)

	if sel != nil {
		if reportErr := c.proxies.ReportOutcome(ctx, sel.Entry.ID, err == nil, c.now()); reportErr != nil {
			c.log.Warn("proxy outcome report failed", logger.Error(reportErr))
		}
	}

	if err != nil {
		return nil, err
	}

	_, _ = io.CopyN(io.Discard, resp.Body, maxDiscardBytes)
	resp.Body.Close()

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
	}, nil
}

// isRetryable classifies an attempt result. Network errors and retryable
// status classes (429, 5xx by default) are retried; everything else returns
// immediately.
func (c *Client) isRetryable(resp *Response, err error, override []int) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return false
	}

	statuses := override
	if len(statuses) == 0 {
		statuses = c.cfg.RetryStatuses
	}
	if len(statuses) > 0 {
		for _, s := range statuses {
			if resp.StatusCode == s {
				return true
			}
		}
		return false
	}

	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.InitialDelay << (attempt - 1)
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	return delay
}

func (c *Client) nextUserAgent() string {
	idx := c.uaCursor.Add(1) - 1
	return c.cfg.UserAgents[int(idx%uint64(len(c.cfg.UserAgents)))]
}

func (c *Client) emitAttempt(
	method string,
	target *url.URL,
	attempt, maxAttempts int,
	resp *Response,
	err error,
	willRetry bool,
	delay time.Duration,
	userAgent string,
	elapsed time.Duration,
) {
	if c.recorder == nil {
		return
	}

	rec := metrics.RequestAttempt{
		Method:      method,
		URL:         target.String(),
		Host:        target.Hostname(),
		Path:        target.Path,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Success:     err == nil && resp != nil && resp.StatusCode < http.StatusBadRequest,
		WillRetry:   willRetry,
		Timestamp:   c.now(),
		UserAgent:   userAgent,
	}
	if resp != nil {
		rec.ResponseCode = resp.StatusCode
	}
	if willRetry {
		rec.RetryAfterMS = delay.Milliseconds()
	}

	c.recorder.Record(rec, elapsed)
}

// parseRetryAfter interprets a Retry-After header value as either delay
// seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
