package httpx

import "github.com/google/uuid"

type RequestIDConfig struct {
	// Header is the response header carrying the server-assigned request id.
	// If empty, request ids are not read and no telemetry is recorded.
	Header string
}

func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{Header: "Request-Id"}
}

type IdempotencyKeyFunc func() string

type IdempotencyConfig struct {
	// Header is set on POST requests when retries are enabled and the caller did
	// not provide one, so a replayed POST is applied at most once by the server.
	// If empty, no key is added.
	Header string

	// New generates a key. If nil, DefaultIdempotencyKey is used.
	New IdempotencyKeyFunc
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Header: "Idempotency-Key",
		New:    DefaultIdempotencyKey,
	}
}

func DefaultIdempotencyKey() string {
	return uuid.NewString()
}
