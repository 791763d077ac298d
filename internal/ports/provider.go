package ports

import (
	"context"

	"archie-core-connections-layer/internal/domain"
)

// ProviderRegistry resolves static provider templates by provider name
type ProviderRegistry interface {
	Template(provider string) (*domain.ProviderTemplate, error)
}

// RefreshInput is everything a refresher needs to exchange a refresh token
type RefreshInput struct {
	Connection *domain.Connection
	Config     *domain.ProviderConfig
	Template   *domain.ProviderTemplate
	Current    *domain.OAuth2Credentials
}

// TokenRefresher performs one OAuth2 refresh against a provider and returns
// the raw token response
type TokenRefresher interface {
	Refresh(ctx context.Context, in RefreshInput) (map[string]any, error)
}

// TokenRefresherRegistry picks the refresher a provider template asks for
type TokenRefresherRegistry interface {
	Refresher(tmpl *domain.ProviderTemplate) (TokenRefresher, error)
}

// TokenIntrospector asks a provider whether an access token is still live.
// Used for providers that do not communicate expiry.
type TokenIntrospector interface {
	IsExpired(ctx context.Context, conn *domain.Connection, config *domain.ProviderConfig, tmpl *domain.ProviderTemplate) (bool, error)
}
