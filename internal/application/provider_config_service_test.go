package application

import (
	"context"
	"testing"

	"archie-core-connections-layer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfigService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	config, err := h.configs.Configure(ctx, h.env.ID, ConfigureProviderInput{
		UniqueKey:    "slack-prod",
		Provider:     "slack",
		ClientID:     "id",
		ClientSecret: "shh",
		Scopes:       []string{"chat:write, users:read", "channels:read"},
	})
	require.NoError(t, err)
	assert.Equal(t, "shh", config.ClientSecret)
	assert.Equal(t, []string{"chat:write", "users:read", "channels:read"}, config.Scopes)

	stored, err := h.configRepo.GetByKey(ctx, "slack-prod", h.env.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "shh", stored.ClientSecret)
	assert.NotEmpty(t, stored.ClientSecretIV)

	list, err := h.configs.List(ctx, h.env.ID)
	require.NoError(t, err)
	assert.Len(t, list, 5)

	require.NoError(t, h.configs.Delete(ctx, "slack-prod", h.env.ID))
	_, err = h.configs.Get(ctx, "slack-prod", h.env.ID)
	assert.ErrorIs(t, err, domain.ErrUnknownProviderConfig)

	err = h.configs.Delete(ctx, "slack-prod", h.env.ID)
	assert.ErrorIs(t, err, domain.ErrUnknownProviderConfig)
}

func TestProviderConfigValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.configs.Configure(ctx, h.env.ID, ConfigureProviderInput{Provider: "slack"})
	assert.ErrorIs(t, err, domain.ErrMissingProviderConfig)

	_, err = h.configs.Configure(ctx, h.env.ID, ConfigureProviderInput{UniqueKey: "x", Provider: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	_, err = h.configs.Configure(ctx, 0, ConfigureProviderInput{UniqueKey: "x", Provider: "slack"})
	assert.ErrorIs(t, err, domain.ErrMissingEnvironment)

	_, err = h.configs.Get(ctx, "", h.env.ID)
	assert.ErrorIs(t, err, domain.ErrMissingProviderConfig)
}
