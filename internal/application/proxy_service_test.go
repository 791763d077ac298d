package application

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"archie-core-connections-layer/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   string
}

type providerServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	hits     atomic.Int32
}

func newProviderServer(t *testing.T, handle func(n int32, w http.ResponseWriter, r *http.Request)) *providerServer {
	t.Helper()
	ps := &providerServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ps.mu.Lock()
		ps.requests = append(ps.requests, capturedRequest{method: r.Method, path: r.URL.Path, query: r.URL.Query(), header: r.Header.Clone(), body: string(body)})
		ps.mu.Unlock()
		n := ps.hits.Add(1)
		if handle != nil {
			handle(n, w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *providerServer) last() capturedRequest {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.requests[len(ps.requests)-1]
}

func (h *harness) addProvider(t *testing.T, key string, tmpl *domain.ProviderTemplate) {
	t.Helper()
	tmpl.Name = key
	h.providers[key] = tmpl
	_, err := h.configs.Configure(context.Background(), h.env.ID, ConfigureProviderInput{
		UniqueKey:    key,
		Provider:     key,
		ClientID:     "consumer-key",
		ClientSecret: "consumer-secret",
	})
	require.NoError(t, err)
}

func (h *harness) proxy(policy RetryPolicy) *ProxyService {
	svc := NewProxyService(h.credentials, h.configs, h.providers, &http.Client{Timeout: 5 * time.Second}, policy, h.metrics, zerolog.Nop())
	svc.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return svc
}

func TestProxyInjectsBearerAndForwardsPrefixedHeaders(t *testing.T) {
	h := newHarness(t)
	srv := newProviderServer(t, nil)
	h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: srv.URL + "/v1"}})
	h.saveOAuth2(t, "c1", "api", "a1", "r1", nil)

	headers := http.Header{}
	headers.Set("Connections-Proxy-X-Trace", "abc")
	headers.Set("Connections-Proxy-Authorization", "Bearer hijack")
	headers.Set("Content-Type", "application/json")
	headers.Set("Cookie", "session=1")

	resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{
		Ref:     h.ref("c1", "api"),
		Method:  "post",
		Path:    "/users",
		Query:   url.Values{"limit": {"10"}},
		Headers: headers,
		Body:    []byte(`{"name":"x"}`),
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got := srv.last()
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/users", got.path)
	assert.Equal(t, "10", got.query.Get("limit"))
	assert.Equal(t, "Bearer a1", got.header.Get("Authorization"))
	assert.Equal(t, "abc", got.header.Get("X-Trace"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Empty(t, got.header.Get("Cookie"))
	assert.Empty(t, got.header.Get("Connections-Proxy-X-Trace"))
	assert.Equal(t, `{"name":"x"}`, got.body)
	assert.Equal(t, int32(1), h.metrics.proxies.Load())
}

func TestProxyRefreshesStaleTokenFirst(t *testing.T) {
	h := newHarness(t)
	srv := newProviderServer(t, nil)
	h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
	h.saveOAuth2(t, "c1", "api", "a1", "r1", timePtr(time.Now().Add(-time.Minute)))

	resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "me"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), h.refresher.calls.Load())
	assert.Equal(t, "Bearer a2", srv.last().header.Get("Authorization"))
}

func TestProxyAPIKey(t *testing.T) {
	t.Run("default header", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, nil)
		h.addProvider(t, "keyed", &domain.ProviderTemplate{AuthMode: domain.AuthModeAPIKey, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
		_, err := h.connections.UpsertAPIConnection(context.Background(), ImportConnectionInput{
			Ref: h.ref("c1", "keyed"), AuthMode: domain.AuthModeAPIKey, Credentials: map[string]any{"apiKey": "k1"},
		})
		require.NoError(t, err)

		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "keyed"), Path: "/charges"})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "k1", srv.last().header.Get(DefaultAPIKeyHeader))
	})

	t.Run("template query parameter", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, nil)
		h.addProvider(t, "keyed", &domain.ProviderTemplate{AuthMode: domain.AuthModeAPIKey, Proxy: domain.ProxyTemplate{
			BaseURL: srv.URL,
			Query:   map[string]string{"api_key": "${apiKey}"},
		}})
		_, err := h.connections.UpsertAPIConnection(context.Background(), ImportConnectionInput{
			Ref: h.ref("c1", "keyed"), AuthMode: domain.AuthModeAPIKey, Credentials: map[string]any{"apiKey": "k1"},
		})
		require.NoError(t, err)

		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "keyed"), Path: "/charges"})
		require.NoError(t, err)
		resp.Body.Close()
		got := srv.last()
		assert.Equal(t, "k1", got.query.Get("api_key"))
		assert.Empty(t, got.header.Get(DefaultAPIKeyHeader))
	})
}

func TestProxyBasicAuth(t *testing.T) {
	h := newHarness(t)
	srv := newProviderServer(t, nil)
	h.addProvider(t, "basic", &domain.ProviderTemplate{AuthMode: domain.AuthModeBasic, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
	_, err := h.connections.UpsertAPIConnection(context.Background(), ImportConnectionInput{
		Ref: h.ref("c1", "basic"), AuthMode: domain.AuthModeBasic, Credentials: map[string]any{"username": "u", "password": "p"},
	})
	require.NoError(t, err)

	resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "basic"), Path: "/"})
	require.NoError(t, err)
	resp.Body.Close()

	req := &http.Request{Header: srv.last().header}
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}

func TestProxyOAuth1SignsRequest(t *testing.T) {
	h := newHarness(t)
	srv := newProviderServer(t, nil)
	h.addProvider(t, "twitter", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth1, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
	_, err := h.connections.ImportOAuth1Connection(context.Background(), ImportConnectionInput{
		Ref: h.ref("c1", "twitter"), Credentials: map[string]any{"oauth_token": "tok", "oauth_token_secret": "sec"},
	})
	require.NoError(t, err)

	resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "twitter"), Path: "/1.1/account/verify_credentials.json"})
	require.NoError(t, err)
	resp.Body.Close()

	auth := srv.last().header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "OAuth "))
	assert.Contains(t, auth, `oauth_consumer_key="consumer-key"`)
	assert.Contains(t, auth, `oauth_token="tok"`)
	assert.Contains(t, auth, "oauth_signature=")
}

func TestProxyRetries(t *testing.T) {
	t.Run("retries retryable statuses and resends the body", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
			if n < 3 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusCreated)
		})
		h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
		h.saveOAuth2(t, "c1", "api", "a1", "", nil)

		retries := 2
		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{
			Ref: h.ref("c1", "api"), Method: http.MethodPut, Path: "/items/1", Body: []byte("payload"), Retries: &retries,
		})
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, int32(3), srv.hits.Load())
		assert.Equal(t, "payload", srv.last().body)
	})

	t.Run("returns the provider error status once retries are exhausted", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
		h.saveOAuth2(t, "c1", "api", "a1", "", nil)

		policy := DefaultRetryPolicy()
		policy.MaxRetries = 1
		resp, err := h.proxy(policy).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "/"})
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, int32(2), srv.hits.Load())
	})

	t.Run("provider specific retry statuses", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
			if n == 1 {
				w.WriteHeader(http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{
			BaseURL: srv.URL,
			Retry:   domain.ProxyRetryHints{Statuses: []int{http.StatusConflict}},
		}})
		h.saveOAuth2(t, "c1", "api", "a1", "", nil)

		retries := 1
		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "/", Retries: &retries})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("no retries by default", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: srv.URL}})
		h.saveOAuth2(t, "c1", "api", "a1", "", nil)

		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "/"})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(1), srv.hits.Load())
	})
}

func TestProxyTransportFailure(t *testing.T) {
	h := newHarness(t)
	srv := newProviderServer(t, nil)
	base := srv.URL
	srv.Close()
	h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: base}})
	h.saveOAuth2(t, "c1", "api", "a1", "", nil)

	retries := 1
	_, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "/", Retries: &retries})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamProxyError)
	assert.NotContains(t, err.Error(), "a1")
}

func TestProxyBaseURL(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, nil)
		h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: "https://unused.invalid"}})
		h.saveOAuth2(t, "c1", "api", "a1", "", nil)

		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "/x", BaseURLOverride: srv.URL + "/alt"})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "/alt/x", srv.last().path)
	})

	t.Run("interpolated from connection config", func(t *testing.T) {
		h := newHarness(t)
		srv := newProviderServer(t, nil)
		h.addProvider(t, "zendesk", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2, Proxy: domain.ProxyTemplate{BaseURL: srv.URL + "/${connectionConfig.subdomain}"}})
		conn := &domain.Connection{
			ConnectionID: "c1", ProviderConfigKey: "zendesk", EnvironmentID: h.env.ID,
			Credentials:      &domain.OAuth2Credentials{AccessToken: "a1"},
			ConnectionConfig: map[string]string{"subdomain": "acme"},
		}
		_, _, err := h.connections.Upsert(context.Background(), conn)
		require.NoError(t, err)

		resp, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "zendesk"), Path: "/api/v2/tickets"})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "/acme/api/v2/tickets", srv.last().path)
	})

	t.Run("missing base URL", func(t *testing.T) {
		h := newHarness(t)
		h.addProvider(t, "api", &domain.ProviderTemplate{AuthMode: domain.AuthModeOAuth2})
		h.saveOAuth2(t, "c1", "api", "a1", "", nil)

		_, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: h.ref("c1", "api"), Path: "/"})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestProxyValidatesRef(t *testing.T) {
	h := newHarness(t)
	_, err := h.proxy(DefaultRetryPolicy()).Forward(context.Background(), ProxyRequest{Ref: domain.ConnectionRef{ProviderConfigKey: "api", EnvironmentID: h.env.ID}})
	assert.ErrorIs(t, err, domain.ErrMissingConnectionID)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 3*time.Second, retryAfter("3", now))
	assert.Equal(t, 10*time.Second, retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, retryAfter("", now))
	assert.Zero(t, retryAfter("soon", now))
}

func TestRetryPolicyBackoff(t *testing.T) {
	t.Run("grows and stays under max delay", func(t *testing.T) {
		b := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}.newBackOff()
		first := b.NextBackOff()
		assert.GreaterOrEqual(t, first, 50*time.Millisecond)
		assert.LessOrEqual(t, first, 150*time.Millisecond)
		for range 8 {
			d := b.NextBackOff()
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, time.Second)
		}
	})

	t.Run("no base delay retries immediately", func(t *testing.T) {
		b := RetryPolicy{}.newBackOff()
		for range 3 {
			assert.Zero(t, b.NextBackOff())
		}
	})

	t.Run("retry-after replaces the computed delay and is capped", func(t *testing.T) {
		b := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}.newBackOff()
		assert.Equal(t, 3*time.Second, b.after(3*time.Second))
		assert.Equal(t, 5*time.Second, b.after(time.Minute))
		assert.LessOrEqual(t, b.after(0), 5*time.Second)
	})

	t.Run("no max delay falls back to library default", func(t *testing.T) {
		b := RetryPolicy{BaseDelay: time.Millisecond}.newBackOff()
		for range 40 {
			assert.LessOrEqual(t, b.NextBackOff(), 2*backoff.DefaultMaxInterval)
		}
	})
}
