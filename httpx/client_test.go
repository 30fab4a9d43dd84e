package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lgc202/stripe-go-kit/config"
	"github.com/lgc202/stripe-go-kit/telemetry"
	"github.com/lgc202/stripe-go-kit/version"
)

func newStore(apiBase string) *config.Store {
	return config.NewStore(config.Settings{
		APIBase:           apiBase,
		APIKey:            "sk_test_123",
		MaxNetworkRetries: 3,
	})
}

func newTestClient(t *testing.T, s SettingsSource, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBackoff(ConstantBackoff(0))}, opts...)
	c, err := New(s, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestExecute_HitsAPIBase(t *testing.T) {
	var n int32
	var gotPath, gotMethod, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		gotPath, gotMethod, gotAuth = r.URL.Path, r.Method, r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !resp.OK() || resp.Attempts != 1 {
		t.Fatalf("unexpected response: status=%d attempts=%d", resp.StatusCode, resp.Attempts)
	}
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/balance" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("unexpected Authorization: %q", gotAuth)
	}
}

func TestExecute_SendsUserAgentHeaders(t *testing.T) {
	var ua, cua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua, cua = r.Header.Get("User-Agent"), r.Header.Get(version.ClientUserAgentHeader)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if ua != version.Get().UserAgent() {
		t.Fatalf("unexpected User-Agent %q", ua)
	}
	if !strings.Contains(cua, `"lang":"go"`) {
		t.Fatalf("unexpected client user agent %q", cua)
	}
}

func TestResolveURL_BaseURLWithPathPrefixAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL+"/api"))
	_, err := c.Do(context.Background(), http.MethodGet, "/v1/test?x=1", WithQueryParam("y", "2"))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotPath != "/api/v1/test" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if !strings.Contains(gotQuery, "x=1") || !strings.Contains(gotQuery, "y=2") {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
}

func TestExecute_RetriesOn5xx(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := atomic.LoadInt32(&n); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if resp.Attempts != 3 || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected response: status=%d attempts=%d", resp.StatusCode, resp.Attempts)
	}
}

func TestExecute_NoRetryOnClientError(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.Header().Set("Request-Id", "req_bad")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL), WithMaxErrorBodyBytes(10))
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/customers/cus_1")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}

	err = resp.Err()
	he, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *httpx.Error, got %T", err)
	}
	if he.StatusCode != http.StatusBadRequest || he.RequestID != "req_bad" || he.Retryable {
		t.Fatalf("unexpected error: %+v", he)
	}
	if len(he.RawBody) != 10 {
		t.Fatalf("expected RawBody len=10, got %d", len(he.RawBody))
	}
	if !IsHTTPStatus(err, http.StatusBadRequest) {
		t.Fatalf("IsHTTPStatus = false")
	}
}

func TestExecute_LastRetryableStatusIsReturned(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := atomic.LoadInt32(&n); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || !IsRetryable(resp.Err()) {
		t.Fatalf("unexpected response: %d %v", resp.StatusCode, resp.Err())
	}
}

func TestExecute_ShouldRetryHeaderOverridesStatus(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.Header().Set(DefaultShouldRetryHeader, "true")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Attempts != 2 {
		t.Fatalf("unexpected response: status=%d attempts=%d", resp.StatusCode, resp.Attempts)
	}
}

func TestExecute_RetryExhaustion(t *testing.T) {
	var n int32
	boom := errors.New("connection refused")
	c := newTestClient(t, newStore("http://api.invalid"), WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&n, 1)
		return nil, boom
	})))

	_, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&n); got != 4 {
		t.Fatalf("expected 4 attempts (initial + 3 retries), got %d", got)
	}
	var ce *APIConnectionError
	if !errors.As(err, &ce) || ce.Attempts != 4 {
		t.Fatalf("expected *APIConnectionError with 4 attempts, got %#v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Attempt != 3 {
		t.Fatalf("expected last *TransportError (attempt 3), got %#v", err)
	}
	if !errors.Is(err, boom) || !IsConnectionError(err) {
		t.Fatalf("error chain lost the cause: %v", err)
	}
}

func TestExecute_NoRetriesWhenDisabled(t *testing.T) {
	var n int32
	s := newStore("http://api.invalid")
	s.Update(func(st *config.Settings) { st.MaxNetworkRetries = 0 })
	c := newTestClient(t, s, WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&n, 1)
		return nil, errors.New("reset by peer")
	})))

	_, err := c.Do(context.Background(), http.MethodPost, "/v1/customers")
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestExecute_SettingsSnapshotPerCall(t *testing.T) {
	s := newStore("http://api.invalid")
	var n int32
	c := newTestClient(t, s, WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			// Mutating settings mid-call must not change this call.
			s.Update(func(st *config.Settings) { st.MaxNetworkRetries = 0 })
		}
		return nil, errors.New("timeout")
	})))

	_, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if got := atomic.LoadInt32(&n); got != 4 {
		t.Fatalf("expected 4 attempts from the call's snapshot, got %d", got)
	}

	atomic.StoreInt32(&n, 0)
	_, _ = c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("next call should see max_network_retries=0, got %d attempts", got)
	}
}

func TestExecute_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	_, err := c.Do(context.Background(), http.MethodPost, "/v1/customers/cus_1",
		WithBodyBytes([]byte("description=hello")),
	)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("expected the same non-empty key on both attempts, got %q", keys)
	}
	if bodies[0] != "description=hello" || bodies[1] != bodies[0] {
		t.Fatalf("body was not replayed: %q", bodies)
	}

	_, err = c.Do(context.Background(), http.MethodGet, "/v1/customers/cus_1")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if keys[2] != "" {
		t.Fatalf("GET must not carry an idempotency key, got %q", keys[2])
	}
}

func TestExecute_TelemetrySaveThenRetrieves(t *testing.T) {
	var n int32
	var mu sync.Mutex
	var headers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		num := atomic.AddInt32(&n, 1)
		mu.Lock()
		headers = append(headers, r.Header.Get(telemetry.HeaderName))
		mu.Unlock()
		if num == 1 {
			time.Sleep(31 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Request-Id", "req_"+strconv.Itoa(int(num)))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	s := newStore(srv.URL)
	s.Update(func(st *config.Settings) { st.EnableTelemetry = true })
	c := newTestClient(t, s)

	ctx := telemetry.WithKey(context.Background(), telemetry.NewKey())
	if _, err := c.Do(ctx, http.MethodPost, "/v1/customers/cus_xyz",
		WithForm(map[string][]string{"description": {"hello"}}),
		WithUsage(telemetry.UsageSave),
	); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Do(ctx, http.MethodGet, "/v1/customers/cus_xyz"); err != nil {
			t.Fatalf("retrieve: %v", err)
		}
	}

	if len(headers) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(headers))
	}
	if headers[0] != "" {
		t.Fatalf("first request must not carry telemetry, got %q", headers[0])
	}

	p, err := telemetry.Decode(headers[1])
	if err != nil {
		t.Fatalf("decode second header: %v", err)
	}
	m := p.LastRequestMetrics
	if m.RequestID != "req_1" {
		t.Fatalf("expected request_id req_1, got %q", m.RequestID)
	}
	if m.RequestDurationMS <= 30 || m.RequestDurationMS >= 300 {
		t.Fatalf("request_duration_ms out of range: %d", m.RequestDurationMS)
	}
	if len(m.Usage) != 1 || m.Usage[0] != "save" {
		t.Fatalf("expected usage [save], got %v", m.Usage)
	}

	p, err = telemetry.Decode(headers[2])
	if err != nil {
		t.Fatalf("decode third header: %v", err)
	}
	if p.LastRequestMetrics.RequestID != "req_2" {
		t.Fatalf("expected request_id req_2, got %q", p.LastRequestMetrics.RequestID)
	}
	if strings.Contains(headers[2], "usage") {
		t.Fatalf("usage must be omitted after a read: %s", headers[2])
	}
}

func TestExecute_TelemetryDisabled(t *testing.T) {
	var sawHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(telemetry.HeaderName) != "" {
			sawHeader.Store(true)
		}
		w.Header().Set("Request-Id", "req_1")
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))
	for i := 0; i < 2; i++ {
		if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if sawHeader.Load() {
		t.Fatalf("telemetry header sent while disabled")
	}
	if c.Recorder().Len() != 0 {
		t.Fatalf("metrics recorded while disabled")
	}
}

func TestExecute_NoRequestIDSkipsTelemetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := newStore(srv.URL)
	s.Update(func(st *config.Settings) { st.EnableTelemetry = true })
	c := newTestClient(t, s)

	ctx := telemetry.WithKey(context.Background(), telemetry.NewKey())
	if _, err := c.Do(ctx, http.MethodGet, "/v1/balance"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if c.Recorder().Len() != 0 {
		t.Fatalf("expected no metrics without Request-Id")
	}
}

func TestExecute_TelemetryIsScopedPerKey(t *testing.T) {
	const workers = 10
	const calls = 3

	var n int32
	var mu sync.Mutex
	seen := make(map[string]string) // "worker/call" -> telemetry request_id
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		num := atomic.AddInt32(&n, 1)
		if raw := r.Header.Get(telemetry.HeaderName); raw != "" {
			p, err := telemetry.Decode(raw)
			if err == nil {
				mu.Lock()
				seen[r.Header.Get("X-Worker")+"/"+r.Header.Get("X-Call")] = p.LastRequestMetrics.RequestID
				mu.Unlock()
			}
		}
		w.Header().Set("Request-Id", fmt.Sprintf("req_%d", num))
	}))
	t.Cleanup(srv.Close)

	s := newStore(srv.URL)
	s.Update(func(st *config.Settings) { st.EnableTelemetry = true })
	c := newTestClient(t, s)

	ids := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ctx := telemetry.WithKey(context.Background(), telemetry.NewKey())
			for i := 0; i < calls; i++ {
				resp, err := c.Do(ctx, http.MethodGet, "/v1/balance",
					WithHeader("X-Worker", strconv.Itoa(w)),
					WithHeader("X-Call", strconv.Itoa(i)),
				)
				if err != nil {
					t.Errorf("worker %d call %d: %v", w, i, err)
					return
				}
				ids[w] = append(ids[w], resp.RequestID)
			}
		}(w)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&n); got != workers*calls {
		t.Fatalf("expected %d requests, got %d", workers*calls, got)
	}
	if len(seen) != workers*(calls-1) {
		t.Fatalf("expected %d telemetry headers, got %d", workers*(calls-1), len(seen))
	}
	for w := 0; w < workers; w++ {
		if _, ok := seen[fmt.Sprintf("%d/0", w)]; ok {
			t.Fatalf("worker %d: first call carried telemetry", w)
		}
		for i := 1; i < calls; i++ {
			got := seen[fmt.Sprintf("%d/%d", w, i)]
			if got != ids[w][i-1] {
				t.Fatalf("worker %d call %d: telemetry request_id %q, want %q", w, i, got, ids[w][i-1])
			}
		}
	}
}

// proxyServer accepts absolute-form requests like a forward proxy and answers them itself.
func proxyServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Host != "api.invalid" || r.URL.Path != "/v1/balance" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestExecute_ProxyChangeWarnsOnceAndRedirects(t *testing.T) {
	proxyA, hitsA := proxyServer(t)
	proxyB, hitsB := proxyServer(t)

	s := newStore("http://api.invalid")
	s.Update(func(st *config.Settings) { st.Proxy = proxyA.URL })

	var mu sync.Mutex
	var warnings []Warning
	c := newTestClient(t, s, WithWarningHandler(func(w Warning) {
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
	}))

	resp, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
	if err != nil || !resp.OK() {
		t.Fatalf("first call: %v %v", resp, err)
	}
	if atomic.LoadInt32(hitsA) != 1 || len(warnings) != 0 {
		t.Fatalf("first call should go through proxy A without warnings")
	}

	s.Update(func(st *config.Settings) { st.Proxy = proxyB.URL })

	for i := 0; i < 2; i++ {
		resp, err = c.Do(context.Background(), http.MethodGet, "/v1/balance")
		if err != nil || !resp.OK() {
			t.Fatalf("call after proxy change: %v %v", resp, err)
		}
	}
	if got := atomic.LoadInt32(hitsB); got != 2 {
		t.Fatalf("expected 2 requests through proxy B, got %d", got)
	}
	if got := atomic.LoadInt32(hitsA); got != 1 {
		t.Fatalf("proxy A should not see more traffic, got %d", got)
	}
	if len(warnings) != 1 || warnings[0].Kind != WarningProxyChanged {
		t.Fatalf("expected exactly one proxy warning, got %+v", warnings)
	}
	if !strings.Contains(warnings[0].Message, "proxy was updated after sending a request") {
		t.Fatalf("unexpected warning message: %q", warnings[0].Message)
	}
}

func TestExecute_CustomTransportWithProxy(t *testing.T) {
	proxy, hits := proxyServer(t)

	hc, err := NewHTTPClient(proxy.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if hc.Proxy() != proxy.URL {
		t.Fatalf("unexpected proxy: %q", hc.Proxy())
	}

	s := newStore("http://api.invalid")
	var warned int32
	c := newTestClient(t, s, WithWarningHandler(func(Warning) { atomic.AddInt32(&warned, 1) }))
	c.SetTransport(hc)

	if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if atomic.LoadInt32(hits) != 1 || atomic.LoadInt32(&warned) != 0 {
		t.Fatalf("expected 1 proxied request and no warning")
	}

	s.Update(func(st *config.Settings) { st.Proxy = "http://other-proxy.invalid:3128" })
	for i := 0; i < 2; i++ {
		if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if got := atomic.LoadInt32(hits); got != 3 {
		t.Fatalf("custom transport must keep its proxy, got %d hits", got)
	}
	if got := atomic.LoadInt32(&warned); got != 1 {
		t.Fatalf("expected one warning, got %d", got)
	}
}

func TestExecute_CancelDuringBackoff(t *testing.T) {
	c := newTestClient(t, newStore("http://api.invalid"),
		WithBackoff(ConstantBackoff(time.Hour)),
		WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Do(ctx, http.MethodGet, "/v1/balance")
	if !errors.Is(err, context.Canceled) || !IsConnectionError(err) {
		t.Fatalf("expected canceled connection error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("backoff was not interrupted")
	}
}

func TestExecute_UninterruptibleBackoff(t *testing.T) {
	var n int32
	rc := DefaultRetryConfig()
	rc.Backoff = ConstantBackoff(150 * time.Millisecond)
	rc.UninterruptibleBackoff = true
	c := newTestClient(t, newStore("http://api.invalid"),
		WithRetry(rc),
		WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
			atomic.AddInt32(&n, 1)
			return nil, errors.New("connection reset")
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Do(ctx, http.MethodGet, "/v1/balance")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatalf("backoff sleep was interrupted")
	}
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("no attempt may start after cancellation, got %d", got)
	}
}

func TestRequestTimeoutOption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL), WithTimeout(2*time.Second))
	_, err := c.Do(context.Background(), http.MethodGet, "/v1/balance",
		WithRequestTimeout(50*time.Millisecond),
	)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExecute_HooksSeeEveryAttempt(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	var before, after []int
	c := newTestClient(t, newStore(srv.URL), WithHooks(
		[]BeforeHook{func(req *http.Request, attempt int) error {
			before = append(before, attempt)
			return nil
		}},
		[]AfterHook{func(req *http.Request, resp *Response, err error, dur time.Duration, attempt int) {
			after = append(after, resp.StatusCode)
		}},
	))

	if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if fmt.Sprint(before) != "[0 1]" || fmt.Sprint(after) != "[429 200]" {
		t.Fatalf("unexpected hook calls: before=%v after=%v", before, after)
	}
}

func TestExecute_RateLimiterErrorAborts(t *testing.T) {
	c := newTestClient(t, newStore("http://api.invalid"),
		WithRateLimiter(limiterFunc(func(context.Context) error { return errors.New("limited") })),
		WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
			t.Fatalf("transport must not be called")
			return nil, nil
		})),
	)
	if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

type limiterFunc func(context.Context) error

func (f limiterFunc) Wait(ctx context.Context) error { return f(ctx) }

func TestExecuteJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"no such thing"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"balance","livemode":false}`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, newStore(srv.URL))

	type balance struct {
		Object   string `json:"object"`
		Livemode bool   `json:"livemode"`
	}
	r, _ := NewRequest(http.MethodGet, "/v1/balance")
	b, _, err := ExecuteJSON[balance](context.Background(), c, r)
	if err != nil || b.Object != "balance" {
		t.Fatalf("ExecuteJSON: %+v %v", b, err)
	}

	r, _ = NewRequest(http.MethodGet, "/v1/missing")
	_, resp, err := ExecuteJSON[balance](context.Background(), c, r)
	if !IsHTTPStatus(err, http.StatusNotFound) || resp == nil {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestNewRequest_Validation(t *testing.T) {
	if _, err := NewRequest("", "/v1/balance"); err == nil {
		t.Fatalf("expected error for empty method")
	}
	if _, err := NewRequest(http.MethodGet, " "); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := NewRequest(http.MethodPost, "/x", WithJSON(make(chan int))); err == nil {
		t.Fatalf("expected JSON marshal error")
	}

	r, err := NewRequest("post", "/v1/customers", WithBody(strings.NewReader("a=b")), WithUsage("save"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if r.Method != http.MethodPost || string(r.Body) != "a=b" || len(r.Usage) != 1 {
		t.Fatalf("unexpected request: %+v", r)
	}
}

func TestNew_RequiresSettings(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil settings")
	}
}

func TestExecute_NoKeyMeansNoTelemetry(t *testing.T) {
	const workers = 10
	const calls = 5

	var n, withHeader int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		num := atomic.AddInt32(&n, 1)
		if r.Header.Get(telemetry.HeaderName) != "" {
			atomic.AddInt32(&withHeader, 1)
		}
		w.Header().Set("Request-Id", "req_"+strconv.Itoa(int(num)))
	}))
	t.Cleanup(srv.Close)

	s := newStore(srv.URL)
	s.Update(func(st *config.Settings) { st.EnableTelemetry = true })
	c := newTestClient(t, s)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
					t.Errorf("Do: %v", err)
					return
				}
				time.Sleep(3 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&n); got != workers*calls {
		t.Fatalf("expected %d requests, got %d", workers*calls, got)
	}
	if got := atomic.LoadInt32(&withHeader); got != 0 {
		t.Fatalf("callers without a key must not share telemetry, %d requests carried a header", got)
	}
	if got := c.Recorder().Len(); got != 0 {
		t.Fatalf("nothing may be recorded without a key, got %d entries", got)
	}
}

func TestExecute_ForgetReleasesFinishedKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Request-Id", "req_1")
	}))
	t.Cleanup(srv.Close)

	s := newStore(srv.URL)
	s.Update(func(st *config.Settings) { st.EnableTelemetry = true })
	c := newTestClient(t, s)

	const callers = 200
	for i := 0; i < callers; i++ {
		k := telemetry.NewKey()
		if _, err := c.Do(telemetry.WithKey(context.Background(), k), http.MethodGet, "/v1/balance"); err != nil {
			t.Fatalf("Do: %v", err)
		}
		if got := c.Recorder().Len(); got != 1 {
			t.Fatalf("expected the finished call to leave one pending entry, got %d", got)
		}
		c.Recorder().Forget(k)
	}
	if got := c.Recorder().Len(); got != 0 {
		t.Fatalf("expected no pending entries after Forget, got %d", got)
	}
}

func TestExecute_CancelKeepsLastTransportError(t *testing.T) {
	errReset := errors.New("connection reset")
	c := newTestClient(t, newStore("http://api.invalid"),
		WithBackoff(ConstantBackoff(time.Hour)),
		WithTransport(TransportFunc(func(*http.Request) (*http.Response, error) {
			return nil, errReset
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := c.Do(ctx, http.MethodGet, "/v1/balance")
	if !IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation missing from %v", err)
	}
	if !errors.Is(err, errReset) {
		t.Fatalf("last transport error missing from %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected a *TransportError in %v", err)
	}
}

func TestResponseErr_RetryableFollowsPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("should_retry"); v != "" {
			w.Header().Set(DefaultShouldRetryHeader, v)
		}
		code, _ := strconv.Atoi(r.URL.Query().Get("status"))
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)

	s := newStore(srv.URL)
	s.Update(func(st *config.Settings) { st.MaxNetworkRetries = 0 })

	rc := DefaultRetryConfig()
	rc.StatusCodes = map[int]bool{http.StatusBadGateway: true, http.StatusBadRequest: true}
	custom := newTestClient(t, s, WithRetry(rc))
	defaults := newTestClient(t, s)

	tests := []struct {
		name string
		c    *Client
		path string
		want bool
	}{
		{"custom set excludes 500", custom, "/x?status=500", false},
		{"custom set includes 502", custom, "/x?status=502", true},
		{"custom set includes 400", custom, "/x?status=400", true},
		{"default 503", defaults, "/x?status=503", true},
		{"server refuses retry", defaults, "/x?status=503&should_retry=false", false},
		{"server asks retry", defaults, "/x?status=400&should_retry=true", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.c.Do(context.Background(), http.MethodGet, tt.path)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			rerr := resp.Err()
			if rerr == nil {
				t.Fatalf("expected an error for status %d", resp.StatusCode)
			}
			if got := IsRetryable(rerr); got != tt.want {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecute_ConcurrentCallersAfterProxyChangeWarnOnce(t *testing.T) {
	proxyA, _ := proxyServer(t)
	proxyB, hitsB := proxyServer(t)

	s := newStore("http://api.invalid")
	s.Update(func(st *config.Settings) { st.Proxy = proxyA.URL })

	var mu sync.Mutex
	var warnings []Warning
	c := newTestClient(t, s, WithWarningHandler(func(w Warning) {
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
	}))
	if _, err := c.Do(context.Background(), http.MethodGet, "/v1/balance"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	s.Update(func(st *config.Settings) { st.Proxy = proxyB.URL })

	const callers = 32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := c.Do(context.Background(), http.MethodGet, "/v1/balance")
			if err != nil || !resp.OK() {
				t.Errorf("call after proxy change: %v %v", resp, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(hitsB); got != callers {
		t.Fatalf("expected %d requests through proxy B, got %d", callers, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 || warnings[0].Kind != WarningProxyChanged {
		t.Fatalf("expected exactly one proxy warning, got %d: %+v", len(warnings), warnings)
	}
}
