package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// HTTPIntrospector asks an RFC 7662 introspection endpoint whether an access
// token is still active
type HTTPIntrospector struct {
	client *http.Client
	logger zerolog.Logger
	group  singleflight.Group
}

var _ ports.TokenIntrospector = (*HTTPIntrospector)(nil)

// NewHTTPIntrospector creates a new introspector
func NewHTTPIntrospector(client *http.Client, logger zerolog.Logger) *HTTPIntrospector {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIntrospector{client: client, logger: logger}
}

type introspectionResponse struct {
	Active bool `json:"active"`
}

// IsExpired reports whether the token is no longer active. Concurrent checks
// for the same connection share one call.
func (i *HTTPIntrospector) IsExpired(ctx context.Context, conn *domain.Connection, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate) (bool, error) {
	creds, ok := conn.OAuth2()
	if !ok {
		return false, fmt.Errorf("introspection requires OAuth2 credentials")
	}
	endpoint := domain.Interpolate(tmpl.IntrospectionURL, nil, conn.ConnectionConfig)
	if endpoint == "" {
		return false, fmt.Errorf("provider %s has no introspection URL", tmpl.Name)
	}

	key := fmt.Sprintf("%d:%s:%s", conn.EnvironmentID, conn.ProviderConfigKey, conn.ConnectionID)
	result, err, _ := i.group.Do(key, func() (interface{}, error) {
		return i.introspect(ctx, endpoint, config, creds.AccessToken)
	})
	if err != nil {
		return false, err
	}

	active := result.(bool)
	if !active {
		i.logger.Info().
			Str("connectionId", conn.ConnectionID).
			Str("provider", tmpl.Name).
			Msg("Introspection reports token inactive")
	}
	return !active, nil
}

func (i *HTTPIntrospector) introspect(ctx context.Context, endpoint string, config *domain.ProviderConfig, token string) (bool, error) {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to create introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(config.ClientID), url.QueryEscape(config.ClientSecret))

	resp, err := i.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call introspection endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("introspection endpoint returned status=%d", resp.StatusCode)
	}

	var body introspectionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponse)).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	return body.Active, nil
}
