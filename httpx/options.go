package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/lgc202/stripe-go-kit/telemetry"
)

type Option interface{ apply(*Config) }

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.Timeout = d })
}

// WithTransport installs a custom transport instead of the managed one.
func WithTransport(t Transport) Option {
	return optionFunc(func(c *Config) { c.Transport = t })
}

func WithTransportConfig(tc TransportConfig) Option {
	return optionFunc(func(c *Config) { c.TransportConfig = tc })
}

func WithDefaultHeader(key, value string) Option {
	return optionFunc(func(c *Config) {
		if c.DefaultHeaders == nil {
			c.DefaultHeaders = make(http.Header)
		}
		c.DefaultHeaders.Set(key, value)
	})
}

func WithDefaultHeaders(h http.Header) Option {
	return optionFunc(func(c *Config) {
		if h == nil {
			return
		}
		if c.DefaultHeaders == nil {
			c.DefaultHeaders = make(http.Header)
		}
		for k, vv := range h {
			for _, v := range vv {
				c.DefaultHeaders.Add(k, v)
			}
		}
	})
}

func WithUserAgent(ua string) Option {
	return optionFunc(func(c *Config) { c.UserAgent = ua })
}

// WithClientUserAgent sends value (usually JSON) in header on every request.
func WithClientUserAgent(header, value string) Option {
	return optionFunc(func(c *Config) {
		c.ClientUserAgentHeader = header
		c.ClientUserAgent = value
	})
}

func WithRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) { c.Retry = cfg })
}

func WithBackoff(b Backoff) Option {
	return optionFunc(func(c *Config) { c.Retry.Backoff = b })
}

func WithMaxErrorBodyBytes(n int64) Option {
	return optionFunc(func(c *Config) { c.MaxErrorBodyBytes = n })
}

func WithRequestID(cfg RequestIDConfig) Option {
	return optionFunc(func(c *Config) { c.RequestID = cfg })
}

func WithIdempotency(cfg IdempotencyConfig) Option {
	return optionFunc(func(c *Config) { c.Idempotency = cfg })
}

// WithRecorder shares a telemetry Recorder between clients.
func WithRecorder(r *telemetry.Recorder) Option {
	return optionFunc(func(c *Config) { c.Recorder = r })
}

func WithTelemetryHeader(name string) Option {
	return optionFunc(func(c *Config) { c.TelemetryHeader = name })
}

func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) { c.Logger = l })
}

// WithWarningHandler subscribes h to non-fatal warnings (see Warning).
func WithWarningHandler(h WarningHandler) Option {
	return optionFunc(func(c *Config) { c.WarningHandlers = append(c.WarningHandlers, h) })
}

// WithMiddleware wraps every transport the client uses, managed or custom.
func WithMiddleware(mws ...Middleware) Option {
	return optionFunc(func(c *Config) { c.Middlewares = append(c.Middlewares, mws...) })
}

// WithRateLimiter installs a client-wide rate limiter.
func WithRateLimiter(rl RateLimiter) Option {
	return optionFunc(func(c *Config) { c.RateLimiter = rl })
}

// WithRateLimit installs a token bucket allowing r attempts per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return optionFunc(func(c *Config) { c.RateLimiter = rate.NewLimiter(r, burst) })
}

// WithHooks adds hooks (executed for every attempt).
func WithHooks(before []BeforeHook, after []AfterHook) Option {
	return optionFunc(func(c *Config) {
		c.Before = append(c.Before, before...)
		c.After = append(c.After, after...)
	})
}

// WithMetrics wires a MetricsCollector into the client's hooks.
func WithMetrics(m *MetricsCollector) Option {
	return optionFunc(func(c *Config) { c.Metrics = m })
}
