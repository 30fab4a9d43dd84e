package httpx

import (
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
)

var errServerStatus = errors.New("server error status")

// CircuitBreaker returns a Middleware that trips after consecutive transport
// failures or 5xx responses, as decided by st.ReadyToTrip. While open, Send
// fails fast with gobreaker.ErrOpenState, which the retry policy does not retry.
func CircuitBreaker(st gobreaker.Settings) Middleware {
	cb := gobreaker.NewCircuitBreaker(st)
	return func(next Transport) Transport {
		return TransportFunc(func(req *http.Request) (*http.Response, error) {
			out, err := cb.Execute(func() (interface{}, error) {
				resp, err := next.Send(req)
				if err != nil {
					return resp, err
				}
				if resp.StatusCode >= 500 {
					return resp, errServerStatus
				}
				return resp, nil
			})
			resp, _ := out.(*http.Response)
			if errors.Is(err, errServerStatus) {
				return resp, nil
			}
			return resp, err
		})
	}
}
