package provider

import (
	"os"
	"path/filepath"
	"testing"

	"archie-core-connections-layer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedRegistry(t *testing.T) {
	registry, err := NewRegistry("")
	require.NoError(t, err)

	slack, err := registry.Template("slack")
	require.NoError(t, err)
	assert.Equal(t, "slack", slack.Name)
	assert.Equal(t, domain.AuthModeOAuth2, slack.AuthMode)
	assert.Equal(t, domain.DefaultRefreshBuffer, slack.RefreshBuffer())
	assert.Equal(t, []int{429}, slack.Proxy.Retry.Statuses)

	atlassian, err := registry.Template("atlassian")
	require.NoError(t, err)
	assert.Equal(t, RefreshClientJSONBody, atlassian.RefreshClient)
	assert.Equal(t, 300, atlassian.RefreshBufferSeconds)

	shopify, err := registry.Template("shopify")
	require.NoError(t, err)
	assert.True(t, shopify.TokenIntrospection)
	assert.Equal(t, IntrospectionClientShopify, shopify.IntrospectionClient)

	twitter, err := registry.Template("twitter")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthModeOAuth1, twitter.AuthMode)

	_, err = registry.Template("myspace")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	assert.Contains(t, registry.Names(), "zendesk")
}

func TestRegistryOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
slack:
  auth_mode: OAUTH2
  token_url: https://slack.internal/token
  refresh_buffer_seconds: 60
internal-api:
  auth_mode: API_KEY
  proxy:
    base_url: https://internal.example
`), 0o600))

	registry, err := NewRegistry(path)
	require.NoError(t, err)

	slack, err := registry.Template("slack")
	require.NoError(t, err)
	assert.Equal(t, "https://slack.internal/token", slack.TokenURL)
	assert.Equal(t, 60, slack.RefreshBufferSeconds)

	internal, err := registry.Template("internal-api")
	require.NoError(t, err)
	assert.Equal(t, "internal-api", internal.Name)

	_, err = registry.Template("github")
	assert.NoError(t, err, "embedded templates remain available")
}

func TestRegistryRejectsInvalidTemplates(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("weird:\n  auth_mode: MAGIC\n"), 0o600))
	_, err := NewRegistry(bad)
	assert.Error(t, err)

	_, err = NewRegistry(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
