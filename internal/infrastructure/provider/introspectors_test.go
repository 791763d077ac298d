package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"archie-core-connections-layer/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oauthConnection(config map[string]string) *domain.Connection {
	return &domain.Connection{
		ConnectionID:      "c1",
		ProviderConfigKey: "p",
		EnvironmentID:     42,
		Credentials:       &domain.OAuth2Credentials{AccessToken: "a1", RefreshToken: "r1"},
		ConnectionConfig:  config,
	}
}

func TestHTTPIntrospector(t *testing.T) {
	var active atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, _, _ := r.BasicAuth()
		if r.PostForm.Get("token") != "a1" || user != "cid" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if active.Load() {
			_, _ = w.Write([]byte(`{"active":true,"exp":1999999999}`))
			return
		}
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer srv.Close()

	introspector := NewHTTPIntrospector(srv.Client(), zerolog.Nop())
	config := &domain.ProviderConfig{ClientID: "cid", ClientSecret: "cs"}
	tmpl := &domain.ProviderTemplate{Name: "salesforce", IntrospectionURL: srv.URL + "/introspect"}

	expired, err := introspector.IsExpired(context.Background(), oauthConnection(nil), config, tmpl)
	require.NoError(t, err)
	assert.True(t, expired)

	active.Store(true)
	expired, err = introspector.IsExpired(context.Background(), oauthConnection(nil), config, tmpl)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestHTTPIntrospectorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	introspector := NewHTTPIntrospector(srv.Client(), zerolog.Nop())
	config := &domain.ProviderConfig{ClientID: "cid"}

	_, err := introspector.IsExpired(context.Background(), oauthConnection(nil), config, &domain.ProviderTemplate{IntrospectionURL: srv.URL})
	assert.Error(t, err)

	_, err = introspector.IsExpired(context.Background(), oauthConnection(nil), config, &domain.ProviderTemplate{})
	assert.Error(t, err)
}

// rewriteTransport sends every request to the test server
type rewriteTransport struct {
	target *url.URL
	paths  chan string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.paths != nil {
		select {
		case rt.paths <- req.URL.Host + req.URL.Path:
		default:
		}
	}
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func shopifyServer(t *testing.T, status int) (*http.Client, chan string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Shopify-Access-Token") != "a1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"shop":{"id":1,"name":"Acme"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"errors":"failure"}`))
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	paths := make(chan string, 1)
	return &http.Client{Transport: &rewriteTransport{target: target, paths: paths}}, paths
}

func TestShopifyIntrospector(t *testing.T) {
	config := &domain.ProviderConfig{ClientID: "key", ClientSecret: "secret"}
	tmpl := &domain.ProviderTemplate{Name: "shopify", TokenIntrospection: true, IntrospectionClient: IntrospectionClientShopify}

	tests := []struct {
		name        string
		status      int
		wantExpired bool
	}{
		{name: "valid token", status: http.StatusOK, wantExpired: false},
		{name: "revoked token", status: http.StatusUnauthorized, wantExpired: true},
		{name: "forbidden token", status: http.StatusForbidden, wantExpired: true},
		{name: "server error assumes valid", status: http.StatusInternalServerError, wantExpired: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, paths := shopifyServer(t, tt.status)
			introspector := NewShopifyIntrospector(client, zerolog.Nop())

			expired, err := introspector.IsExpired(context.Background(), oauthConnection(map[string]string{"subdomain": "acme"}), config, tmpl)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExpired, expired)

			path := <-paths
			assert.Contains(t, path, "acme.myshopify.com")
			assert.Contains(t, path, "/shop.json")
		})
	}
}

func TestShopifyIntrospectorRequiresShop(t *testing.T) {
	introspector := NewShopifyIntrospector(http.DefaultClient, zerolog.Nop())
	_, err := introspector.IsExpired(context.Background(), oauthConnection(nil), &domain.ProviderConfig{}, &domain.ProviderTemplate{})
	assert.Error(t, err)
}

func TestIntrospectorsDispatch(t *testing.T) {
	client, paths := shopifyServer(t, http.StatusOK)
	introspectors := NewIntrospectors(client, zerolog.Nop())

	_, err := introspectors.IsExpired(context.Background(), oauthConnection(map[string]string{"shop": "acme"}), &domain.ProviderConfig{},
		&domain.ProviderTemplate{IntrospectionClient: IntrospectionClientShopify})
	require.NoError(t, err)
	assert.Contains(t, <-paths, "acme.myshopify.com")

	_, err = introspectors.IsExpired(context.Background(), oauthConnection(nil), &domain.ProviderConfig{}, &domain.ProviderTemplate{})
	assert.Error(t, err, "standard introspector needs an introspection URL")
}
