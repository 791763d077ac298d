package application

import (
	"fmt"
	"time"

	"archie-core-connections-layer/internal/domain"
)

// CredentialParser normalizes untyped token responses into typed credentials.
// Nothing past this boundary inspects the raw map's shape again.
type CredentialParser struct {
	now func() time.Time
}

// NewCredentialParser creates a parser using the wall clock
func NewCredentialParser() *CredentialParser {
	return &CredentialParser{now: time.Now}
}

// NewCredentialParserWithClock creates a parser with an injected clock
func NewCredentialParserWithClock(now func() time.Time) *CredentialParser {
	return &CredentialParser{now: now}
}

// Parse converts raw into the credential variant for mode.
// The raw map is kept verbatim on OAuth credentials.
func (p *CredentialParser) Parse(raw map[string]any, mode domain.AuthMode) (domain.Credentials, error) {
	switch mode {
	case domain.AuthModeOAuth2:
		return p.parseOAuth2(raw)
	case domain.AuthModeOAuth1:
		token := stringField(raw, "oauth_token")
		secret := stringField(raw, "oauth_token_secret")
		if token == "" || secret == "" {
			return nil, domain.NewError(domain.KindIncompleteCredentials, "oauth_token and oauth_token_secret are required")
		}
		return &domain.OAuth1Credentials{OAuthToken: token, OAuthTokenSecret: secret, Raw: raw}, nil
	case domain.AuthModeAPIKey:
		key := stringField(raw, "apiKey")
		if key == "" {
			key = stringField(raw, "api_key")
		}
		if key == "" {
			return nil, domain.NewError(domain.KindIncompleteCredentials, "apiKey is required")
		}
		return &domain.APIKeyCredentials{APIKey: key}, nil
	case domain.AuthModeBasic:
		username := stringField(raw, "username")
		if username == "" {
			return nil, domain.NewError(domain.KindIncompleteCredentials, "username is required")
		}
		return &domain.BasicCredentials{Username: username, Password: stringField(raw, "password")}, nil
	default:
		err := domain.NewError(domain.KindUnsupportedAuthMode, fmt.Sprintf("auth mode %q is not supported", mode))
		err.Raw = raw
		return nil, err
	}
}

func (p *CredentialParser) parseOAuth2(raw map[string]any) (*domain.OAuth2Credentials, error) {
	accessToken := stringField(raw, "access_token")
	if accessToken == "" {
		return nil, domain.NewError(domain.KindIncompleteCredentials, "access_token is required")
	}

	creds := &domain.OAuth2Credentials{
		AccessToken:  accessToken,
		RefreshToken: stringField(raw, "refresh_token"),
		Raw:          raw,
	}

	// An explicit absolute expiry wins over a relative one
	if v, ok := raw["expires_at"]; ok && v != nil {
		if ts, ok := domain.ParseTimestamp(v); ok {
			creds.ExpiresAt = &ts
			return creds, nil
		}
	}
	if v, ok := raw["expires_in"]; ok && v != nil {
		if d, ok := domain.ParseSeconds(v); ok {
			ts := p.now().Add(d).UTC()
			creds.ExpiresAt = &ts
		}
	}
	return creds, nil
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
