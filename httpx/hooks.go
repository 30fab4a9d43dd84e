package httpx

import (
	"context"
	"net/http"
	"time"
)

// RateLimiter can be used to throttle outgoing requests.
// It should block until a token is available or ctx is canceled.
// *rate.Limiter from golang.org/x/time/rate satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// BeforeHook runs before every attempt. attempt starts at 0.
type BeforeHook func(req *http.Request, attempt int) error

// AfterHook runs after every attempt. Exactly one of resp and err is non-nil.
type AfterHook func(req *http.Request, resp *Response, err error, dur time.Duration, attempt int)

// Middleware decorates a Transport.
type Middleware func(next Transport) Transport

func chain(t Transport, mws []Middleware) Transport {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		t = mws[i](t)
	}
	return t
}
