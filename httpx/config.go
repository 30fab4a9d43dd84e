package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lgc202/stripe-go-kit/telemetry"
	"github.com/lgc202/stripe-go-kit/version"
)

// Config configures a Client. Use DefaultConfig() as a baseline.
// Process-level, runtime-mutable values (API base, key, proxy, telemetry flag,
// retry count) are not here: they come from the Settings source on every call.
type Config struct {
	// Timeout sets an upper bound for the whole logical call including retries.
	// If the request context already has a deadline, the earlier one wins.
	Timeout time.Duration

	// Transport overrides the managed transport (the "default HTTP client").
	// If nil, an HTTPClient is built from Settings.Proxy and TransportConfig.
	Transport Transport

	// TransportConfig tunes managed transports.
	TransportConfig TransportConfig

	// DefaultHeaders are copied into every request (caller headers win).
	DefaultHeaders http.Header

	// UserAgent is set when the request does not already have a User-Agent header.
	UserAgent string

	// ClientUserAgentHeader carries ClientUserAgent as a JSON description of the client.
	// Both must be non-empty for the header to be sent.
	ClientUserAgentHeader string
	ClientUserAgent       string

	// Retry configures automatic retries. MaxRetries is taken from Settings.
	Retry RetryConfig

	// MaxErrorBodyBytes limits how many bytes are copied into Error.RawBody.
	// If zero, DefaultMaxErrorBodyBytes is used.
	MaxErrorBodyBytes int64

	// RequestID configures which response header carries the request id.
	RequestID RequestIDConfig

	// Idempotency configures idempotency keys for retried POSTs.
	Idempotency IdempotencyConfig

	// Recorder stores per-context telemetry. If nil, a private Recorder is used.
	Recorder *telemetry.Recorder

	// TelemetryHeader is the request header that carries the previous request's metrics.
	TelemetryHeader string

	// Logger receives retry and warning logs. If nil, logs are discarded.
	Logger *slog.Logger

	// Metrics, when set, observes every attempt and warning. Its telemetry
	// counter follows TelemetryHeader.
	Metrics *MetricsCollector

	WarningHandlers []WarningHandler
	Middlewares     []Middleware
	RateLimiter     RateLimiter
	Before          []BeforeHook
	After           []AfterHook
}

const DefaultMaxErrorBodyBytes int64 = 64 << 10 // 64KiB

// DefaultConfig returns a conservative baseline suitable for most services.
func DefaultConfig() Config {
	info := version.Get()
	return Config{
		Timeout:               80 * time.Second,
		DefaultHeaders:        make(http.Header),
		UserAgent:             info.UserAgent(),
		ClientUserAgentHeader: version.ClientUserAgentHeader,
		ClientUserAgent:       info.ClientUserAgentJSON(),
		Retry:                 DefaultRetryConfig(),
		MaxErrorBodyBytes:     DefaultMaxErrorBodyBytes,
		RequestID:             DefaultRequestIDConfig(),
		Idempotency:           DefaultIdempotencyConfig(),
		TelemetryHeader:       telemetry.HeaderName,
	}
}
