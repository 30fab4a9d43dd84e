package httpx

import "net/http"

// TransportFunc adapts a function to a Transport.
type TransportFunc func(*http.Request) (*http.Response, error)

func (f TransportFunc) Send(r *http.Request) (*http.Response, error) { return f(r) }

// RoundTripperTransport sends requests through an existing http.RoundTripper,
// such as an *http.Transport configured by the caller. Redirects are not followed.
type RoundTripperTransport struct {
	RoundTripper http.RoundTripper

	// ProxyURL is reported by Proxy. Set it when RoundTripper uses a proxy so
	// that proxy staleness can be detected.
	ProxyURL string
}

func (t RoundTripperTransport) Send(r *http.Request) (*http.Response, error) {
	rt := t.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(r)
}

func (t RoundTripperTransport) Proxy() string { return t.ProxyURL }

func (t RoundTripperTransport) CloseIdleConnections() {
	if ci, ok := t.RoundTripper.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
