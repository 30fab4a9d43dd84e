package httpx

import "fmt"

type WarningKind string

const (
	// WarningProxyChanged: Settings.Proxy no longer matches the live transport.
	WarningProxyChanged WarningKind = "proxy_changed"
)

// Warning is a non-fatal condition noticed while executing a request.
// The request that noticed it still proceeds.
type Warning struct {
	Kind    WarningKind
	Message string

	// Previous and Current are redacted.
	Previous string
	Current  string
}

type WarningHandler func(Warning)

func proxyChangedWarning(prev, cur string, replaced bool) Warning {
	msg := fmt.Sprintf("proxy was updated after sending a request (%q -> %q); subsequent requests use a new transport", redactURL(prev), redactURL(cur))
	if !replaced {
		msg = fmt.Sprintf("proxy was updated after sending a request (%q -> %q); the custom transport is kept, install a new one to change proxies", redactURL(prev), redactURL(cur))
	}
	return Warning{
		Kind:     WarningProxyChanged,
		Message:  msg,
		Previous: redactURL(prev),
		Current:  redactURL(cur),
	}
}

func (c *Client) warn(w Warning) {
	c.logger.Warn(w.Message, "kind", string(w.Kind), "previous", w.Previous, "current", w.Current)
	for _, h := range c.warnings {
		if h == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			h(w)
		}()
	}
}
