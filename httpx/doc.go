// Package httpx is the network-access core of the API client:
// - a pluggable Transport (direct or through a proxy fixed at construction)
// - a retry policy with exponential backoff + jitter, Retry-After and server overrides
// - Client.Execute, which snapshots settings, attaches the previous request's
//   telemetry, retries, and records this request's metrics
// - error types for transport failures, exhausted retries and HTTP statuses
// - hook points for logging/metrics/rate limiting/circuit breaking
package httpx
