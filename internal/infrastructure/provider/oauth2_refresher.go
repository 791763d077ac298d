package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// OAuth2Refresher exchanges refresh tokens at a standard OAuth2 token endpoint
type OAuth2Refresher struct {
	client *http.Client
	logger zerolog.Logger
}

var _ ports.TokenRefresher = (*OAuth2Refresher)(nil)

// NewOAuth2Refresher creates a refresher that sends token requests through client
func NewOAuth2Refresher(client *http.Client, logger zerolog.Logger) *OAuth2Refresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuth2Refresher{client: client, logger: logger}
}

// Refresh performs a refresh_token grant and returns the provider's raw response
func (r *OAuth2Refresher) Refresh(ctx context.Context, in ports.RefreshInput) (map[string]any, error) {
	tokenURL := domain.Interpolate(in.Template.TokenURL, nil, in.Connection.ConnectionConfig)
	if tokenURL == "" || strings.Contains(tokenURL, "${") {
		return nil, fmt.Errorf("provider %s has no usable token URL", in.Template.Name)
	}

	config := &oauth2.Config{
		ClientID:     in.Config.ClientID,
		ClientSecret: in.Config.ClientSecret,
		Scopes:       in.Config.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: authStyle(in.Template.TokenAuthStyle),
		},
	}

	capture := &captureTransport{base: r.client.Transport, extra: templateParams(in.Template.TokenParams)}
	httpClient := &http.Client{Transport: capture, Timeout: r.client.Timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	tok, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: in.Current.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return nil, fmt.Errorf("token endpoint returned %d: %s", status, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	raw := capture.response()
	if raw == nil {
		raw = tokenToRaw(tok)
	}
	if _, ok := raw["access_token"]; !ok && tok.AccessToken != "" {
		raw["access_token"] = tok.AccessToken
	}

	r.logger.Debug().
		Str("connectionId", in.Connection.ConnectionID).
		Str("provider", in.Template.Name).
		Msg("Refresh token exchanged")
	return raw, nil
}

func authStyle(style domain.TokenAuthStyle) oauth2.AuthStyle {
	switch style {
	case domain.TokenAuthStyleHeader:
		return oauth2.AuthStyleInHeader
	case domain.TokenAuthStyleBody:
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

func templateParams(params map[string]string) url.Values {
	if len(params) == 0 {
		return nil
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}

func tokenToRaw(tok *oauth2.Token) map[string]any {
	raw := map[string]any{"access_token": tok.AccessToken}
	if tok.RefreshToken != "" {
		raw["refresh_token"] = tok.RefreshToken
	}
	if tok.TokenType != "" {
		raw["token_type"] = tok.TokenType
	}
	if !tok.Expiry.IsZero() {
		raw["expires_at"] = tok.Expiry.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	}
	return raw
}

// captureTransport keeps the last successful token response body so the raw
// provider payload survives x/oauth2's typed parsing. Template token params
// are appended to form-encoded request bodies.
type captureTransport struct {
	base  http.RoundTripper
	extra url.Values

	mu   sync.Mutex
	body []byte
	ct   string
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	if len(t.extra) > 0 && req.Body != nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		form, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, err
		}
		for k, vs := range t.extra {
			if !form.Has(k) {
				form[k] = vs
			}
		}
		encoded := form.Encode()
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(strings.NewReader(encoded))
		req.ContentLength = int64(len(encoded))
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.mu.Lock()
		t.body = data
		t.ct = resp.Header.Get("Content-Type")
		t.mu.Unlock()
	}
	return resp, nil
}

// response decodes the captured body as JSON, falling back to form encoding
func (t *captureTransport) response() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.body) == 0 {
		return nil
	}
	return decodeTokenResponse(t.body)
}

func decodeTokenResponse(data []byte) map[string]any {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw
	}

	values, err := url.ParseQuery(string(data))
	if err != nil || len(values) == 0 {
		return nil
	}
	raw = make(map[string]any, len(values))
	for k := range values {
		raw[k] = values.Get(k)
	}
	return raw
}
