package domain

import (
	"regexp"
	"strings"
	"time"
)

// DefaultRefreshBuffer is how long before expiry a token is treated as stale
const DefaultRefreshBuffer = 900 * time.Second

// TokenAuthStyle is how client credentials are sent to a token endpoint
type TokenAuthStyle string

const (
	TokenAuthStyleAuto   TokenAuthStyle = ""
	TokenAuthStyleHeader TokenAuthStyle = "header"
	TokenAuthStyleBody   TokenAuthStyle = "body"
)

// ProviderTemplate is the static, read-only description of a provider
type ProviderTemplate struct {
	Name                 string            `yaml:"-"`
	AuthMode             AuthMode          `yaml:"auth_mode"`
	TokenURL             string            `yaml:"token_url"`
	TokenAuthStyle       TokenAuthStyle    `yaml:"token_request_auth_method"`
	TokenParams          map[string]string `yaml:"token_params"`
	RefreshBufferSeconds int               `yaml:"refresh_buffer_seconds"`
	RefreshClient        string            `yaml:"refresh_client"`
	TokenIntrospection   bool              `yaml:"token_introspection"`
	IntrospectionURL     string            `yaml:"introspection_url"`
	IntrospectionClient  string            `yaml:"introspection_client"`
	Proxy                ProxyTemplate     `yaml:"proxy"`
}

// ProxyTemplate describes how proxied calls reach the provider
type ProxyTemplate struct {
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`
	Query   map[string]string `yaml:"query"`
	Retry   ProxyRetryHints   `yaml:"retry"`
}

// ProxyRetryHints lets a provider name extra retryable statuses
type ProxyRetryHints struct {
	Statuses []int `yaml:"statuses"`
}

// RefreshBuffer returns the provider's lead time before expiry
func (t *ProviderTemplate) RefreshBuffer() time.Duration {
	if t == nil || t.RefreshBufferSeconds <= 0 {
		return DefaultRefreshBuffer
	}
	return time.Duration(t.RefreshBufferSeconds) * time.Second
}

// ProviderConfig is an environment's app registration for a provider
// (client id/secret, scopes) addressed by its unique key
type ProviderConfig struct {
	ID            int64     `json:"id"`
	UniqueKey     string    `json:"unique_key"`
	EnvironmentID int64     `json:"environment_id"`
	Provider      string    `json:"provider"`
	ClientID      string    `json:"client_id"`
	ClientSecret  string    `json:"-"`
	Scopes        []string  `json:"scopes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StoredProviderConfig is the persisted form; the client secret is sealed
type StoredProviderConfig struct {
	ID              int64
	UniqueKey       string
	EnvironmentID   int64
	Provider        string
	ClientID        string
	ClientSecret    string
	ClientSecretIV  string
	ClientSecretTag string
	Scopes          []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}`)

// Interpolate replaces ${name} placeholders using vars; connection config
// entries are addressed as ${connectionConfig.<key>}. Unknown placeholders are
// left untouched.
func Interpolate(s string, vars map[string]string, connectionConfig map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if key, ok := strings.CutPrefix(name, "connectionConfig."); ok {
			if v, found := connectionConfig[key]; found {
				return v
			}
			return m
		}
		if v, found := vars[name]; found {
			return v
		}
		return m
	})
}
