package application

import (
	"errors"
	"testing"
	"time"

	"archie-core-connections-layer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialParserOAuth2(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	parser := NewCredentialParserWithClock(func() time.Time { return now })

	t.Run("missing access token", func(t *testing.T) {
		_, err := parser.Parse(map[string]any{}, domain.AuthModeOAuth2)
		assert.ErrorIs(t, err, domain.ErrIncompleteCredentials)
	})

	t.Run("expires_in string", func(t *testing.T) {
		raw := map[string]any{"access_token": "t", "expires_in": "3600"}
		creds, err := parser.Parse(raw, domain.AuthModeOAuth2)
		require.NoError(t, err)

		oauth := creds.(*domain.OAuth2Credentials)
		require.NotNil(t, oauth.ExpiresAt)
		assert.Equal(t, now.Add(time.Hour), *oauth.ExpiresAt)
		assert.Equal(t, raw, oauth.Raw)
	})

	t.Run("expires_in number", func(t *testing.T) {
		creds, err := parser.Parse(map[string]any{"access_token": "t", "expires_in": float64(60)}, domain.AuthModeOAuth2)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), *creds.(*domain.OAuth2Credentials).ExpiresAt)
	})

	t.Run("expires_at wins over expires_in", func(t *testing.T) {
		creds, err := parser.Parse(map[string]any{
			"access_token": "t",
			"expires_at":   "2026-04-01T00:00:00Z",
			"expires_in":   3600,
		}, domain.AuthModeOAuth2)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *creds.(*domain.OAuth2Credentials).ExpiresAt)
	})

	t.Run("no expiry", func(t *testing.T) {
		creds, err := parser.Parse(map[string]any{"access_token": "t", "refresh_token": "r"}, domain.AuthModeOAuth2)
		require.NoError(t, err)
		oauth := creds.(*domain.OAuth2Credentials)
		assert.Nil(t, oauth.ExpiresAt)
		assert.Equal(t, "r", oauth.RefreshToken)
	})

	t.Run("out of range expiry is ignored", func(t *testing.T) {
		tests := []struct {
			name string
			raw  map[string]any
		}{
			{"expires_in NaN", map[string]any{"access_token": "t", "expires_in": "NaN"}},
			{"expires_in Inf", map[string]any{"access_token": "t", "expires_in": "Inf"}},
			{"expires_in huge string", map[string]any{"access_token": "t", "expires_in": "1e30"}},
			{"expires_in huge number", map[string]any{"access_token": "t", "expires_in": 1e30}},
			{"expires_at NaN", map[string]any{"access_token": "t", "expires_at": "NaN"}},
			{"expires_at huge number", map[string]any{"access_token": "t", "expires_at": 1e30}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				creds, err := parser.Parse(tt.raw, domain.AuthModeOAuth2)
				require.NoError(t, err)
				assert.Nil(t, creds.(*domain.OAuth2Credentials).ExpiresAt)
			})
		}
	})

	t.Run("large but valid expires_in", func(t *testing.T) {
		creds, err := parser.Parse(map[string]any{"access_token": "t", "expires_in": float64(10 * 365 * 24 * 3600)}, domain.AuthModeOAuth2)
		require.NoError(t, err)
		expiresAt := creds.(*domain.OAuth2Credentials).ExpiresAt
		require.NotNil(t, expiresAt)
		assert.True(t, expiresAt.After(now))
	})
}

func TestCredentialParserWallClockTolerance(t *testing.T) {
	creds, err := NewCredentialParser().Parse(map[string]any{"access_token": "t", "expires_in": "3600"}, domain.AuthModeOAuth2)
	require.NoError(t, err)

	expiresAt := creds.(*domain.OAuth2Credentials).ExpiresAt
	require.NotNil(t, expiresAt)
	assert.WithinDuration(t, time.Now().Add(3600*time.Second), *expiresAt, 5*time.Second)
}

func TestCredentialParserOAuth1(t *testing.T) {
	parser := NewCredentialParser()

	_, err := parser.Parse(map[string]any{"oauth_token": "t"}, domain.AuthModeOAuth1)
	assert.ErrorIs(t, err, domain.ErrIncompleteCredentials)

	_, err = parser.Parse(map[string]any{"oauth_token_secret": "s"}, domain.AuthModeOAuth1)
	assert.ErrorIs(t, err, domain.ErrIncompleteCredentials)

	creds, err := parser.Parse(map[string]any{"oauth_token": "t", "oauth_token_secret": "s", "user_id": "9"}, domain.AuthModeOAuth1)
	require.NoError(t, err)
	oauth := creds.(*domain.OAuth1Credentials)
	assert.Equal(t, "t", oauth.OAuthToken)
	assert.Equal(t, "s", oauth.OAuthTokenSecret)
	assert.Equal(t, "9", oauth.Raw["user_id"])
}

func TestCredentialParserStaticModes(t *testing.T) {
	parser := NewCredentialParser()

	creds, err := parser.Parse(map[string]any{"apiKey": "k"}, domain.AuthModeAPIKey)
	require.NoError(t, err)
	assert.Equal(t, &domain.APIKeyCredentials{APIKey: "k"}, creds)

	creds, err = parser.Parse(map[string]any{"api_key": "k2"}, domain.AuthModeAPIKey)
	require.NoError(t, err)
	assert.Equal(t, &domain.APIKeyCredentials{APIKey: "k2"}, creds)

	_, err = parser.Parse(map[string]any{}, domain.AuthModeAPIKey)
	assert.ErrorIs(t, err, domain.ErrIncompleteCredentials)

	creds, err = parser.Parse(map[string]any{"username": "u", "password": "p"}, domain.AuthModeBasic)
	require.NoError(t, err)
	assert.Equal(t, &domain.BasicCredentials{Username: "u", Password: "p"}, creds)

	_, err = parser.Parse(map[string]any{"password": "p"}, domain.AuthModeBasic)
	assert.ErrorIs(t, err, domain.ErrIncompleteCredentials)
}

func TestCredentialParserUnsupportedMode(t *testing.T) {
	raw := map[string]any{"token": "secret-value"}
	_, err := NewCredentialParser().Parse(raw, domain.AuthMode("SAML"))
	require.ErrorIs(t, err, domain.ErrUnsupportedAuthMode)

	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, raw, derr.Raw)
	assert.NotContains(t, err.Error(), "secret-value")
}
