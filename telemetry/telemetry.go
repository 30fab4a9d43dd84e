package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// HeaderName is the request header that carries the previous request's metrics.
const HeaderName = "X-Stripe-Client-Telemetry"

// UsageSave marks a request issued by a resource's save helper.
const UsageSave = "save"

// Metrics describes one completed request as observed by the client.
type Metrics struct {
	RequestID         string   `json:"request_id"`
	RequestDurationMS int64    `json:"request_duration_ms"`
	Usage             []string `json:"usage,omitempty"`
}

// Payload is the wire form of the telemetry header.
type Payload struct {
	LastRequestMetrics Metrics `json:"last_request_metrics"`
}

// NewMetrics builds Metrics for a request that took d. Negative durations are
// clamped to zero; usage is copied.
func NewMetrics(requestID string, d time.Duration, usage []string) Metrics {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	var u []string
	if len(usage) > 0 {
		u = append([]string(nil), usage...)
	}
	return Metrics{
		RequestID:         requestID,
		RequestDurationMS: ms,
		Usage:             u,
	}
}

// Header encodes m as the telemetry header value.
func Header(m Metrics) (string, error) {
	b, err := json.Marshal(Payload{LastRequestMetrics: m})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a telemetry header value.
func Decode(raw string) (Payload, error) {
	var p Payload
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p, errors.New("telemetry: empty header")
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, err
	}
	return p, nil
}
