package httpx

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport performs one physical HTTP exchange. Implementations must be safe
// for concurrent use. The caller owns (and closes) the returned body.
type Transport interface {
	Send(req *http.Request) (*http.Response, error)
}

// proxyReporter is implemented by transports that know their proxy target.
type proxyReporter interface {
	Proxy() string
}

// TransportConfig captures a subset of http.Transport knobs that commonly matter in production.
// The proxy is not one of them: it always comes from Settings.Proxy.
type TransportConfig struct {
	DialTimeout           time.Duration
	DialKeepAlive         time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	IdleConnTimeout       time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	ForceAttemptHTTP2   bool
}

// NewTransport builds an *http.Transport starting from DefaultTransport() and applying overrides.
func NewTransport(cfg TransportConfig) *http.Transport {
	t := DefaultTransport()
	if cfg.DialTimeout > 0 || cfg.DialKeepAlive > 0 {
		d := &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.DialKeepAlive,
		}
		t.DialContext = d.DialContext
	}
	if cfg.TLSHandshakeTimeout > 0 {
		t.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
	}
	if cfg.ResponseHeaderTimeout > 0 {
		t.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	}
	if cfg.ExpectContinueTimeout > 0 {
		t.ExpectContinueTimeout = cfg.ExpectContinueTimeout
	}
	if cfg.IdleConnTimeout > 0 {
		t.IdleConnTimeout = cfg.IdleConnTimeout
	}
	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		t.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if cfg.ForceAttemptHTTP2 {
		t.ForceAttemptHTTP2 = true
	}
	return t
}

// DefaultTransport returns a tuned clone of http.DefaultTransport.
func DefaultTransport() *http.Transport {
	// http.DefaultTransport is a *http.Transport in stdlib.
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return &http.Transport{}
	}
	t := base.Clone()

	t.DialContext = (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = 5 * time.Second
	t.ResponseHeaderTimeout = 60 * time.Second
	t.ExpectContinueTimeout = 1 * time.Second
	t.IdleConnTimeout = 90 * time.Second
	if t.MaxIdleConns == 0 {
		t.MaxIdleConns = 200
	}
	if t.MaxIdleConnsPerHost == 0 {
		t.MaxIdleConnsPerHost = 50
	}
	t.ForceAttemptHTTP2 = true
	return t
}

// HTTPClient is the default Transport. It connects directly, or through the
// proxy given at construction; the proxy never changes afterwards.
type HTTPClient struct {
	hc    *http.Client
	proxy string
}

// NewHTTPClient builds a direct client when proxy is empty, otherwise a client
// that sends every request through proxy.
func NewHTTPClient(proxy string, cfg TransportConfig) (*HTTPClient, error) {
	proxy = strings.TrimSpace(proxy)

	t := NewTransport(cfg)
	// Direct means direct: do not pick up HTTP(S)_PROXY from the environment.
	t.Proxy = nil

	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, &url.Error{Op: "parse", URL: u.Redacted(), Err: errors.New("proxy url must be absolute")}
		}
		t.Proxy = http.ProxyURL(u)
	}

	return &HTTPClient{
		hc:    &http.Client{Transport: t},
		proxy: proxy,
	}, nil
}

// Send performs the exchange.
func (c *HTTPClient) Send(req *http.Request) (*http.Response, error) {
	return c.hc.Do(req)
}

// Proxy returns the proxy URL fixed at construction ("" for direct).
func (c *HTTPClient) Proxy() string { return c.proxy }

// CloseIdleConnections releases pooled connections.
func (c *HTTPClient) CloseIdleConnections() { c.hc.CloseIdleConnections() }

// closeIdle releases idle connections of t when it supports it.
func closeIdle(t Transport) {
	if ci, ok := t.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
