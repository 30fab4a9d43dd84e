package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is one logical call. Body is held in memory so every attempt can replay it.
type Request struct {
	Method string
	// Path is resolved against Settings.APIBase unless it is absolute.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// Usage names the higher-level helper that issued the call (e.g. "save").
	// It is reported in the telemetry sent with the next request.
	Usage []string

	// Timeout bounds this call. If the context or client timeout is earlier, that wins.
	Timeout time.Duration
}

type RequestOption interface{ apply(*requestConfig) }

type requestOptionFunc func(*requestConfig)

func (f requestOptionFunc) apply(c *requestConfig) { f(c) }

type requestConfig struct {
	header http.Header
	query  url.Values

	timeout time.Duration

	body        io.Reader
	bodyBytes   []byte
	contentType string
	err         error

	usage []string
}

func WithHeader(key, value string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Set(key, value)
	})
}

func WithHeaders(h http.Header) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if h == nil {
			return
		}
		if c.header == nil {
			c.header = make(http.Header)
		}
		for k, vv := range h {
			for _, v := range vv {
				c.header.Add(k, v)
			}
		}
	})
}

func WithQuery(values url.Values) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if values == nil {
			return
		}
		if c.query == nil {
			c.query = make(url.Values)
		}
		for k, vv := range values {
			for _, v := range vv {
				c.query.Add(k, v)
			}
		}
	})
}

func WithQueryParam(key, value string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		if c.query == nil {
			c.query = make(url.Values)
		}
		c.query.Add(key, value)
	})
}

// WithRequestTimeout sets a per-call deadline upper bound.
// If the request context already has a deadline, the earlier one wins.
func WithRequestTimeout(d time.Duration) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.timeout = d })
}

// WithBodyBytes sets the request body as bytes.
func WithBodyBytes(b []byte) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		c.bodyBytes = append([]byte(nil), b...)
		c.body = nil
	})
}

// WithBody sets the request body reader. It is read fully when the request is built.
func WithBody(r io.Reader) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		c.body = r
		c.bodyBytes = nil
	})
}

// WithJSON sets the request body to a JSON-encoded value.
func WithJSON(v any) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		b, err := json.Marshal(v)
		if err != nil {
			c.err = err
			return
		}
		c.bodyBytes = b
		c.body = nil
		c.contentType = "application/json"
	})
}

// WithForm sets the request body to form-encoded values.
func WithForm(values url.Values) RequestOption {
	return requestOptionFunc(func(c *requestConfig) {
		c.bodyBytes = []byte(values.Encode())
		c.body = nil
		c.contentType = "application/x-www-form-urlencoded"
	})
}

// WithUsage tags the call with the helper that issued it.
func WithUsage(usage ...string) RequestOption {
	return requestOptionFunc(func(c *requestConfig) { c.usage = append(c.usage, usage...) })
}

// WithIdempotencyKey sets an explicit idempotency key.
func WithIdempotencyKey(key string) RequestOption {
	return WithHeader(DefaultIdempotencyConfig().Header, key)
}

// WithBearerToken overrides the API key from Settings for this call.
func WithBearerToken(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// NewRequest builds a Request from options.
func NewRequest(method, path string, opts ...RequestOption) (*Request, error) {
	if strings.TrimSpace(method) == "" {
		return nil, errors.New("httpx: empty method")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("httpx: empty url/path")
	}
	rc := requestConfig{}
	for _, o := range opts {
		if o != nil {
			o.apply(&rc)
		}
	}
	if rc.err != nil {
		return nil, rc.err
	}

	body := rc.bodyBytes
	if body == nil && rc.body != nil {
		b, err := io.ReadAll(rc.body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	hdr := rc.header
	if hdr == nil {
		hdr = make(http.Header)
	}
	if rc.contentType != "" && hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", rc.contentType)
	}

	return &Request{
		Method:  strings.ToUpper(strings.TrimSpace(method)),
		Path:    path,
		Query:   rc.query,
		Header:  hdr,
		Body:    body,
		Usage:   rc.usage,
		Timeout: rc.timeout,
	}, nil
}
