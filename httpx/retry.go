package httpx

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
)

// DefaultShouldRetryHeader lets the server override the retry decision with "true" or "false".
const DefaultShouldRetryHeader = "Stripe-Should-Retry"

type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Client.Execute overwrites it with Settings.MaxNetworkRetries for every call.
	MaxRetries int

	// StatusCodes lists response status codes eligible for retries.
	// If empty, 409, 429 and every 5xx are retried.
	StatusCodes map[int]bool

	// Backoff computes the sleep duration before the next retry.
	// If nil, DefaultBackoff() is used.
	Backoff Backoff

	// RespectRetryAfter uses Retry-After header as the backoff for 429/503 when present.
	RespectRetryAfter bool

	// MaxRetryAfter caps Retry-After. A larger value is ignored and Backoff is used instead.
	// If zero, no cap is applied.
	MaxRetryAfter time.Duration

	// ShouldRetryHeader names the response header that overrides the status policy.
	// If empty, no override is honored.
	ShouldRetryHeader string

	// UninterruptibleBackoff makes backoff sleeps ignore context cancellation.
	// The cancellation is still observed before the next attempt starts.
	UninterruptibleBackoff bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Backoff:           DefaultBackoff(),
		RespectRetryAfter: true,
		MaxRetryAfter:     60 * time.Second,
		ShouldRetryHeader: DefaultShouldRetryHeader,
	}
}

// Outcome is the result of one attempt: a response or a transport error.
type Outcome struct {
	Response *Response
	Err      error
}

// ShouldRetry decides whether attempt (0 for the initial request) is followed
// by another one, and how long to wait before it.
func (c RetryConfig) ShouldRetry(attempt int, o Outcome) (bool, time.Duration) {
	if attempt >= c.MaxRetries {
		return false, 0
	}
	if o.Err != nil {
		if !retryableTransportErr(o.Err) {
			return false, 0
		}
		return true, c.backoff().Next(attempt + 1)
	}
	if o.Response == nil || !c.retryableResponse(o.Response) {
		return false, 0
	}

	wait := c.backoff().Next(attempt + 1)
	code := o.Response.StatusCode
	if c.RespectRetryAfter && (code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable) {
		if ra, ok := parseRetryAfter(o.Response.Header, time.Now()); ok {
			if c.MaxRetryAfter <= 0 || ra <= c.MaxRetryAfter {
				wait = ra
			}
		}
	}
	return true, wait
}

func (c RetryConfig) backoff() Backoff {
	if c.Backoff == nil {
		return DefaultBackoff()
	}
	return c.Backoff
}

func (c RetryConfig) retryableResponse(r *Response) bool {
	if r.StatusCode < 400 {
		return false
	}
	if c.ShouldRetryHeader != "" {
		switch strings.ToLower(strings.TrimSpace(r.Header.Get(c.ShouldRetryHeader))) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return c.canRetryStatus(r.StatusCode)
}

func (c RetryConfig) canRetryStatus(code int) bool {
	if len(c.StatusCodes) > 0 {
		return c.StatusCodes[code]
	}
	return defaultRetryStatus(code)
}

func defaultRetryStatus(code int) bool {
	switch {
	case code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code < 600:
		return true
	default:
		return false
	}
}

// retryableTransportErr reports whether a failed exchange may succeed on retry.
// Connection-level failures are retried; cancellations, an open circuit and
// errors retryablehttp deems permanent (bad scheme, invalid header, untrusted
// certificate, redirect loops) are not.
func retryableTransportErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue
	}
	ok, _ := retryablehttp.DefaultRetryPolicy(context.Background(), nil, err)
	return ok
}

type Backoff interface {
	// Next returns how long to sleep before retrying attempt+1.
	// attempt starts at 1 for the first retry (i.e. after the first failed request).
	Next(attempt int) time.Duration
}

// BackoffFunc adapts a function to a Backoff.
type BackoffFunc func(attempt int) time.Duration

func (f BackoffFunc) Next(attempt int) time.Duration { return f(attempt) }

// ConstantBackoff always waits the same duration.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Next(int) time.Duration { return time.Duration(b) }

type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1
}

var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewPCG(seed64(), seed64()))
)

func seed64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint64(b[:])
	}
	return uint64(time.Now().UnixNano())
}

func jitterFloat64() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterRng.Float64()
}

func DefaultBackoff() Backoff {
	return ExponentialBackoff{
		Base:   500 * time.Millisecond,
		Max:    5 * time.Second,
		Jitter: 0.25,
	}
}

func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}

	// base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		if d >= max/2 {
			d = max
			break
		}
		d *= 2
	}
	if d > max {
		d = max
	}

	j := b.Jitter
	if j <= 0 {
		return d
	}
	if j > 1 {
		j = 1
	}

	// +/- jitter%
	f := 1 + (jitterFloat64()*2-1)*j
	if f < 0 {
		f = 0
	}
	out := time.Duration(float64(d) * f)
	if out > max {
		out = max
	}
	return out
}

func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration, uninterruptible bool) error {
	if d <= 0 {
		return nil
	}
	if uninterruptible {
		time.Sleep(d)
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
