package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthMode identifies how a connection authenticates against its provider
type AuthMode string

const (
	AuthModeOAuth2 AuthMode = "OAUTH2"
	AuthModeOAuth1 AuthMode = "OAUTH1"
	AuthModeAPIKey AuthMode = "API_KEY"
	AuthModeBasic  AuthMode = "BASIC"
)

// Credentials is the closed set of credential variants a connection can hold.
// Only the types declared in this file implement it.
type Credentials interface {
	AuthMode() AuthMode
	isCredentials()
}

// OAuth2Credentials holds an OAuth2 access token and its refresh material
type OAuth2Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Raw          map[string]any
}

// OAuth1Credentials holds an OAuth1 token pair
type OAuth1Credentials struct {
	OAuthToken       string
	OAuthTokenSecret string
	Raw              map[string]any
}

// APIKeyCredentials holds a static API key
type APIKeyCredentials struct {
	APIKey string
}

// BasicCredentials holds a username/password pair
type BasicCredentials struct {
	Username string
	Password string
}

func (*OAuth2Credentials) AuthMode() AuthMode { return AuthModeOAuth2 }
func (*OAuth1Credentials) AuthMode() AuthMode { return AuthModeOAuth1 }
func (*APIKeyCredentials) AuthMode() AuthMode { return AuthModeAPIKey }
func (*BasicCredentials) AuthMode() AuthMode  { return AuthModeBasic }

func (*OAuth2Credentials) isCredentials() {}
func (*OAuth1Credentials) isCredentials() {}
func (*APIKeyCredentials) isCredentials() {}
func (*BasicCredentials) isCredentials()  {}

// HasRefreshToken reports whether the credential can be refreshed
func (c *OAuth2Credentials) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// String hides token material from fmt and log output
func (c *OAuth2Credentials) String() string {
	return fmt.Sprintf("OAuth2Credentials{expiresAt: %v, hasRefreshToken: %t}", c.ExpiresAt, c.HasRefreshToken())
}

func (c *OAuth1Credentials) String() string { return "OAuth1Credentials{[REDACTED]}" }
func (c *APIKeyCredentials) String() string { return "APIKeyCredentials{[REDACTED]}" }
func (c *BasicCredentials) String() string {
	return fmt.Sprintf("BasicCredentials{username: %s}", c.Username)
}

// credentialsDoc is the persisted JSON shape of every credential variant.
// The "type" field selects the variant.
type credentialsDoc struct {
	Type             AuthMode        `json:"type"`
	AccessToken      string          `json:"access_token,omitempty"`
	RefreshToken     string          `json:"refresh_token,omitempty"`
	ExpiresAt        json.RawMessage `json:"expires_at,omitempty"`
	OAuthToken       string          `json:"oauth_token,omitempty"`
	OAuthTokenSecret string          `json:"oauth_token_secret,omitempty"`
	APIKey           string          `json:"apiKey,omitempty"`
	Username         string          `json:"username,omitempty"`
	Password         string          `json:"password,omitempty"`
	Raw              map[string]any  `json:"raw,omitempty"`
}

// MarshalCredentials encodes a credential variant into its persisted JSON form
func MarshalCredentials(creds Credentials) ([]byte, error) {
	var doc credentialsDoc
	switch c := creds.(type) {
	case *OAuth2Credentials:
		doc = credentialsDoc{Type: AuthModeOAuth2, AccessToken: c.AccessToken, RefreshToken: c.RefreshToken, Raw: c.Raw}
		if c.ExpiresAt != nil {
			ts, err := json.Marshal(c.ExpiresAt.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return nil, err
			}
			doc.ExpiresAt = ts
		}
	case *OAuth1Credentials:
		doc = credentialsDoc{Type: AuthModeOAuth1, OAuthToken: c.OAuthToken, OAuthTokenSecret: c.OAuthTokenSecret, Raw: c.Raw}
	case *APIKeyCredentials:
		doc = credentialsDoc{Type: AuthModeAPIKey, APIKey: c.APIKey}
	case *BasicCredentials:
		doc = credentialsDoc{Type: AuthModeBasic, Username: c.Username, Password: c.Password}
	case nil:
		return nil, NewError(KindIncompleteCredentials, "credentials are empty")
	default:
		return nil, NewError(KindUnsupportedAuthMode, fmt.Sprintf("unsupported credentials type %T", creds))
	}
	return json.Marshal(doc)
}

// UnmarshalCredentials decodes the persisted JSON form back into a variant.
// expires_at is re-parsed leniently so rows written by older versions still load.
func UnmarshalCredentials(data []byte) (Credentials, error) {
	var doc credentialsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	switch doc.Type {
	case AuthModeOAuth2:
		creds := &OAuth2Credentials{AccessToken: doc.AccessToken, RefreshToken: doc.RefreshToken, Raw: doc.Raw}
		if len(doc.ExpiresAt) > 0 && string(doc.ExpiresAt) != "null" {
			var v any
			if err := json.Unmarshal(doc.ExpiresAt, &v); err != nil {
				return nil, fmt.Errorf("failed to decode expires_at: %w", err)
			}
			ts, ok := ParseTimestamp(v)
			if !ok {
				return nil, fmt.Errorf("failed to parse expires_at %s", string(doc.ExpiresAt))
			}
			creds.ExpiresAt = &ts
		}
		return creds, nil
	case AuthModeOAuth1:
		return &OAuth1Credentials{OAuthToken: doc.OAuthToken, OAuthTokenSecret: doc.OAuthTokenSecret, Raw: doc.Raw}, nil
	case AuthModeAPIKey:
		return &APIKeyCredentials{APIKey: doc.APIKey}, nil
	case AuthModeBasic:
		return &BasicCredentials{Username: doc.Username, Password: doc.Password}, nil
	default:
		return nil, NewError(KindUnsupportedAuthMode, fmt.Sprintf("unsupported auth mode %q", doc.Type))
	}
}
