package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// maxTokenResponse bounds how much of a token response is read
const maxTokenResponse = 1 << 20

// JSONBodyRefresher sends the refresh_token grant as a JSON document, for
// providers whose token endpoint rejects form-encoded requests
type JSONBodyRefresher struct {
	client *http.Client
	logger zerolog.Logger
}

var _ ports.TokenRefresher = (*JSONBodyRefresher)(nil)

// NewJSONBodyRefresher creates a JSON body refresher
func NewJSONBodyRefresher(client *http.Client, logger zerolog.Logger) *JSONBodyRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &JSONBodyRefresher{client: client, logger: logger}
}

// Refresh performs the grant and returns the raw JSON response
func (r *JSONBodyRefresher) Refresh(ctx context.Context, in ports.RefreshInput) (map[string]any, error) {
	tokenURL := domain.Interpolate(in.Template.TokenURL, nil, in.Connection.ConnectionConfig)
	if tokenURL == "" {
		return nil, fmt.Errorf("provider %s has no token URL", in.Template.Name)
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     in.Config.ClientID,
		"client_secret": in.Config.ClientSecret,
		"refresh_token": in.Current.RefreshToken,
	}
	for k, v := range in.Template.TokenParams {
		if _, ok := payload[k]; !ok {
			payload[k] = v
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	raw := decodeTokenResponse(data)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, _ := raw["error"].(string)
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, code)
	}
	if raw == nil {
		return nil, fmt.Errorf("token endpoint returned an unreadable response")
	}

	r.logger.Debug().
		Str("connectionId", in.Connection.ConnectionID).
		Str("provider", in.Template.Name).
		Msg("Refresh token exchanged")
	return raw, nil
}
