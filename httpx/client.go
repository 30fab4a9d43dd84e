package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lgc202/stripe-go-kit/config"
	"github.com/lgc202/stripe-go-kit/telemetry"
)

// SettingsSource publishes the current process-level settings.
// *config.Store implements it.
type SettingsSource interface {
	Get() config.Settings
}

// Client executes logical calls against the API. It is safe for concurrent use.
type Client struct {
	settings SettingsSource

	// custom is a caller-installed transport; managed is built from Settings.Proxy.
	custom       atomic.Pointer[transportSlot]
	customWarned atomic.Pointer[string]
	managed      atomic.Pointer[transportSlot]

	transportCfg TransportConfig
	middlewares  []Middleware

	timeout         time.Duration
	defaultHeaders  http.Header
	userAgent       string
	cuaHeader       string
	cuaValue        string
	retry           RetryConfig
	maxErrBody      int64
	requestID       RequestIDConfig
	idempotency     IdempotencyConfig
	recorder        *telemetry.Recorder
	telemetryHeader string

	logger      *slog.Logger
	warnings    []WarningHandler
	rateLimiter RateLimiter
	before      []BeforeHook
	after       []AfterHook
}

type transportSlot struct {
	t     Transport // base wrapped by middlewares
	base  Transport
	proxy string
}

// Response is the final response of a logical call. The body has been read and closed.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte

	// RequestID is the server-assigned id (empty if the header was absent).
	RequestID string

	// Attempts is the number of physical exchanges made, including this one.
	Attempts int

	// Duration is the latency of the attempt that produced this response.
	Duration time.Duration

	maxErrBody int64
	retryable  bool
}

// New constructs a Client from DefaultConfig() plus the provided options.
// settings is read once at the start of every call.
func New(settings SettingsSource, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		if o != nil {
			o.apply(&cfg)
		}
	}
	return NewWithConfig(settings, cfg)
}

func NewWithConfig(settings SettingsSource, cfg Config) (*Client, error) {
	if settings == nil {
		return nil, errors.New("httpx: nil settings source")
	}

	maxErrBody := cfg.MaxErrorBodyBytes
	if maxErrBody == 0 {
		maxErrBody = DefaultMaxErrorBodyBytes
	}

	// Clone headers to avoid caller mutation.
	hdr := make(http.Header)
	for k, vv := range cfg.DefaultHeaders {
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = telemetry.NewRecorder()
	}

	c := &Client{
		settings:        settings,
		transportCfg:    cfg.TransportConfig,
		middlewares:     append([]Middleware(nil), cfg.Middlewares...),
		timeout:         cfg.Timeout,
		defaultHeaders:  hdr,
		userAgent:       cfg.UserAgent,
		cuaHeader:       cfg.ClientUserAgentHeader,
		cuaValue:        cfg.ClientUserAgent,
		retry:           cfg.Retry,
		maxErrBody:      maxErrBody,
		requestID:       cfg.RequestID,
		idempotency:     cfg.Idempotency,
		recorder:        rec,
		telemetryHeader: cfg.TelemetryHeader,
		logger:          logger,
		warnings:        append([]WarningHandler(nil), cfg.WarningHandlers...),
		rateLimiter:     cfg.RateLimiter,
		before:          append([]BeforeHook(nil), cfg.Before...),
		after:           append([]AfterHook(nil), cfg.After...),
	}
	if m := cfg.Metrics; m != nil {
		c.before = append(c.before, m.BeforeHook(cfg.TelemetryHeader))
		c.after = append(c.after, m.AfterHook())
		c.warnings = append(c.warnings, m.WarningHandler())
	}
	if c.retry.Backoff == nil {
		c.retry.Backoff = DefaultBackoff()
	}
	if c.idempotency.New == nil && c.idempotency.Header != "" {
		c.idempotency.New = DefaultIdempotencyKey
	}
	if cfg.Transport != nil {
		c.SetTransport(cfg.Transport)
	}
	return c, nil
}

// SetTransport installs t for subsequent calls; nil restores the managed transport.
// Calls already in flight finish on the transport they started with.
func (c *Client) SetTransport(t Transport) {
	c.customWarned.Store(nil)
	if t == nil {
		c.custom.Store(nil)
		return
	}
	slot := &transportSlot{t: chain(t, c.middlewares), base: t}
	if pr, ok := t.(proxyReporter); ok {
		slot.proxy = strings.TrimSpace(pr.Proxy())
	}
	c.custom.Store(slot)
}

// Recorder returns the telemetry store used by the client.
func (c *Client) Recorder() *telemetry.Recorder { return c.recorder }

// transport returns the transport for a call made with settings s.
//
// A managed transport whose proxy no longer matches s.Proxy is replaced and a
// single WarningProxyChanged is emitted by the caller that wins the swap.
// A custom transport is never replaced; the warning is emitted once per
// distinct mismatching proxy value.
func (c *Client) transport(s config.Settings) (Transport, error) {
	want := strings.TrimSpace(s.Proxy)

	if cur := c.custom.Load(); cur != nil {
		if want != "" && want != cur.proxy {
			last := c.customWarned.Load()
			if (last == nil || *last != want) && c.customWarned.CompareAndSwap(last, &want) {
				c.warn(proxyChangedWarning(cur.proxy, want, false))
			}
		}
		return cur.t, nil
	}

	for {
		cur := c.managed.Load()
		if cur != nil && cur.proxy == want {
			return cur.t, nil
		}
		hc, err := NewHTTPClient(want, c.transportCfg)
		if err != nil {
			return nil, err
		}
		next := &transportSlot{t: chain(hc, c.middlewares), base: hc, proxy: want}
		if c.managed.CompareAndSwap(cur, next) {
			if cur != nil {
				c.warn(proxyChangedWarning(cur.proxy, want, true))
				closeIdle(cur.base)
			}
			return next.t, nil
		}
		hc.CloseIdleConnections()
	}
}

// Do builds a Request from options and executes it.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	r, err := NewRequest(method, path, opts...)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, r)
}

// Execute runs one logical call.
//
// Transport failures and retryable statuses are retried up to
// Settings.MaxNetworkRetries times. When no response could be obtained the
// error is an *APIConnectionError wrapping the last *TransportError. Any
// response, including a non-2xx one, is returned with a nil error; use
// Response.Err to turn it into an *Error.
//
// With telemetry enabled and a telemetry.Key on ctx, the metrics pending for
// that key are consumed into the request header, and the final response's
// metrics are recorded for the next call on the same key. Without a key no
// telemetry is sent or recorded.
func (c *Client) Execute(ctx context.Context, r *Request) (*Response, error) {
	if r == nil {
		return nil, errors.New("httpx: nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := c.settings.Get()

	if dl, ok := earliestDeadline(ctx, c.timeout, r.Timeout); ok {
		ctx2, cancel := withEarlierDeadline(ctx, dl)
		defer cancel()
		ctx = ctx2
	}

	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		return nil, errors.New("httpx: empty method")
	}
	u, err := resolveURL(s.APIBase, r.Path, r.Query)
	if err != nil {
		return nil, err
	}
	tr, err := c.transport(s)
	if err != nil {
		return nil, err
	}

	policy := c.retry
	policy.MaxRetries = s.MaxNetworkRetries

	hdr := c.buildHeader(s, r, method, policy.MaxRetries)
	key, hasKey := telemetry.KeyFrom(ctx)
	useTelemetry := s.EnableTelemetry && hasKey
	if useTelemetry && c.telemetryHeader != "" {
		if m, ok := c.recorder.Take(key); ok {
			if v, err := telemetry.Header(m); err == nil {
				hdr.Set(c.telemetryHeader, v)
			} else {
				c.logger.Debug("encode telemetry", "err", err)
			}
		}
	}

	urlStr := u.String()
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.connErr(method, urlStr, attempt, attempt, err, lastErr)
		}
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, c.connErr(method, urlStr, attempt, attempt, err, lastErr)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader(r.Body))
		if err != nil {
			return nil, err
		}
		req.Header = hdr.Clone()

		for _, h := range c.before {
			if h == nil {
				continue
			}
			if err := h(req, attempt); err != nil {
				return nil, err
			}
		}

		t0 := time.Now()
		resp, err := c.sendOnce(tr, req)
		dur := time.Since(t0)

		for _, h := range c.after {
			if h != nil {
				h(req, resp, err, dur, attempt)
			}
		}

		if err != nil {
			err = &TransportError{Method: method, URL: urlStr, Attempt: attempt, Err: err}
			lastErr = err
		} else {
			lastErr = nil
		}

		retry, wait := policy.ShouldRetry(attempt, Outcome{Response: resp, Err: err})
		if !retry {
			if err != nil {
				return nil, &APIConnectionError{Attempts: attempt + 1, Err: err}
			}
			resp.Attempts = attempt + 1
			resp.Duration = dur
			resp.retryable = policy.retryableResponse(resp)
			if useTelemetry && resp.RequestID != "" {
				c.recorder.Record(key, telemetry.NewMetrics(resp.RequestID, dur, r.Usage))
			}
			return resp, nil
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Debug("http retry", "method", method, "url", urlStr, "attempt", attempt, "status", status, "sleep", wait, "err", err)

		if err := sleep(ctx, wait, policy.UninterruptibleBackoff); err != nil {
			return nil, c.connErr(method, urlStr, attempt, attempt+1, err, lastErr)
		}
	}
}

// connErr reports a call abandoned before attempt could run. last is the
// previous attempt's transport failure, if any, and is kept alongside err.
func (c *Client) connErr(method, urlStr string, attempt, attempts int, err, last error) error {
	var out error = &TransportError{Method: method, URL: urlStr, Attempt: attempt, Err: err}
	if last != nil {
		out = errors.Join(out, last)
	}
	return &APIConnectionError{Attempts: attempts, Err: out}
}

// sendOnce performs one exchange and reads the whole body, so the measured
// duration covers the complete response.
func (c *Client) sendOnce(tr Transport, req *http.Request) (*Response, error) {
	resp, err := tr.Send(req)
	if err != nil {
		// A transport may return a non-nil resp alongside an error; don't leak it.
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("nil response")
	}

	var body []byte
	if resp.Body != nil {
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
	}

	rid := ""
	if c.requestID.Header != "" {
		rid = strings.TrimSpace(resp.Header.Get(c.requestID.Header))
	}
	return &Response{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RequestID:  rid,
		maxErrBody: c.maxErrBody,
	}, nil
}

func (c *Client) buildHeader(s config.Settings, r *Request, method string, maxRetries int) http.Header {
	// Apply headers: default headers first, then request headers override.
	hdr := make(http.Header)
	for k, vv := range c.defaultHeaders {
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}
	for k, vv := range r.Header {
		hdr.Del(k)
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}
	if s.APIKey != "" && hdr.Get("Authorization") == "" {
		hdr.Set("Authorization", "Bearer "+s.APIKey)
	}
	if c.userAgent != "" && hdr.Get("User-Agent") == "" {
		hdr.Set("User-Agent", c.userAgent)
	}
	if c.cuaHeader != "" && c.cuaValue != "" && hdr.Get(c.cuaHeader) == "" {
		hdr.Set(c.cuaHeader, c.cuaValue)
	}
	if len(r.Body) > 0 && hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if method == http.MethodPost && maxRetries > 0 && c.idempotency.Header != "" && hdr.Get(c.idempotency.Header) == "" {
		if k := strings.TrimSpace(c.idempotency.New()); k != "" {
			hdr.Set(c.idempotency.Header, k)
		}
	}
	return hdr
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

// resolveURL resolves path against base. A base with a path prefix
// (e.g. https://host/api) is treated as a prefix for "/v1/..." paths.
func resolveURL(base, path string, q url.Values) (*url.URL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty url/path")
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		b := strings.TrimSpace(base)
		if b == "" {
			return nil, errors.New("relative path requires an API base")
		}
		bu, err := url.Parse(b)
		if err != nil {
			return nil, err
		}
		if bu.Scheme == "" || bu.Host == "" {
			return nil, &url.Error{Op: "parse", URL: b, Err: errors.New("api base must be absolute")}
		}
		if bu.Path != "" && !strings.HasSuffix(bu.Path, "/") {
			bu.Path += "/"
		}
		if strings.HasPrefix(u.Path, "/") {
			u2 := *u
			u2.Path = strings.TrimPrefix(u2.Path, "/")
			u = &u2
		}
		u = bu.ResolveReference(u)
	} else {
		u2 := *u
		u = &u2
	}
	if q != nil {
		qq := u.Query()
		for k, vv := range q {
			for _, v := range vv {
				qq.Add(k, v)
			}
		}
		u.RawQuery = qq.Encode()
	}
	return u, nil
}

func withEarlierDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return ctx, func() {}
	}
	if existing, ok := ctx.Deadline(); ok && !existing.After(deadline) {
		return ctx, func() {}
	}
	return context.WithDeadline(ctx, deadline)
}

func earliestDeadline(base context.Context, timeouts ...time.Duration) (time.Time, bool) {
	now := time.Now()
	var earliest time.Time
	for _, d := range timeouts {
		if d <= 0 {
			continue
		}
		dd := now.Add(d)
		if earliest.IsZero() || dd.Before(earliest) {
			earliest = dd
		}
	}
	if dl, ok := base.Deadline(); ok {
		if earliest.IsZero() || dl.Before(earliest) {
			earliest = dl
		}
	}
	if earliest.IsZero() {
		return time.Time{}, false
	}
	return earliest, true
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Err converts a non-2xx response into an *Error; it returns nil for 2xx.
func (r *Response) Err() error {
	if r == nil {
		return &Error{Cause: errors.New("nil response")}
	}
	if r.OK() {
		return nil
	}
	raw := r.Body
	limit := r.maxErrBody
	if limit == 0 {
		limit = DefaultMaxErrorBodyBytes
	}
	if limit > 0 && int64(len(raw)) > limit {
		raw = raw[:limit]
	}
	ra, _ := parseRetryAfter(r.Header, time.Now())
	return &Error{
		Method:     r.Method,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		RequestID:  r.RequestID,
		RetryAfter: ra,
		RawBody:    append([]byte(nil), raw...),
		Retryable:  r.retryable,
		Cause:      errors.New(http.StatusText(r.StatusCode)),
	}
}
