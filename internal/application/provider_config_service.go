package application

import (
	"context"
	"fmt"
	"strings"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// ProviderConfigService manages per-environment provider app registrations
type ProviderConfigService struct {
	configRepo ports.ProviderConfigRepository
	codec      ports.CredentialCodec
	providers  ports.ProviderRegistry
	logger     zerolog.Logger
}

// NewProviderConfigService creates a new provider config service
func NewProviderConfigService(
	configRepo ports.ProviderConfigRepository,
	codec ports.CredentialCodec,
	providers ports.ProviderRegistry,
	logger zerolog.Logger,
) *ProviderConfigService {
	return &ProviderConfigService{
		configRepo: configRepo,
		codec:      codec,
		providers:  providers,
		logger:     logger,
	}
}

// ConfigureProviderInput represents the input for registering a provider app
type ConfigureProviderInput struct {
	UniqueKey    string
	Provider     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Configure creates or replaces the provider config addressed by UniqueKey
func (s *ProviderConfigService) Configure(ctx context.Context, environmentID int64, input ConfigureProviderInput) (*domain.ProviderConfig, error) {
	if input.UniqueKey == "" {
		return nil, domain.NewError(domain.KindMissingProviderConfig, "provider config key is required")
	}
	if environmentID == 0 {
		return nil, domain.NewError(domain.KindMissingEnvironment, "environment id is required")
	}
	if input.Provider == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "provider is required")
	}
	if _, err := s.providers.Template(input.Provider); err != nil {
		return nil, err
	}

	secret, iv, tag, err := s.codec.SealSecret(input.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt client secret: %w", err)
	}

	stored := &domain.StoredProviderConfig{
		UniqueKey:       input.UniqueKey,
		EnvironmentID:   environmentID,
		Provider:        input.Provider,
		ClientID:        input.ClientID,
		ClientSecret:    secret,
		ClientSecretIV:  iv,
		ClientSecretTag: tag,
		Scopes:          normalizeScopes(input.Scopes),
	}
	if _, err := s.configRepo.Upsert(ctx, stored); err != nil {
		s.logger.Error().Err(err).Str("providerConfigKey", input.UniqueKey).Msg("Failed to save provider config")
		return nil, fmt.Errorf("failed to save provider config: %w", err)
	}

	s.logger.Info().
		Int64("environmentId", environmentID).
		Str("providerConfigKey", input.UniqueKey).
		Str("provider", input.Provider).
		Msg("Provider configuration saved successfully")

	return s.Get(ctx, input.UniqueKey, environmentID)
}

// Get returns the decrypted provider config
func (s *ProviderConfigService) Get(ctx context.Context, uniqueKey string, environmentID int64) (*domain.ProviderConfig, error) {
	if uniqueKey == "" {
		return nil, domain.NewError(domain.KindMissingProviderConfig, "provider config key is required")
	}
	if environmentID == 0 {
		return nil, domain.NewError(domain.KindMissingEnvironment, "environment id is required")
	}

	stored, err := s.configRepo.GetByKey(ctx, uniqueKey, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}
	if stored == nil {
		return nil, domain.NewError(domain.KindUnknownProviderConfig, "provider config not found").
			WithField("providerConfigKey", uniqueKey).
			WithField("environmentId", fmt.Sprint(environmentID))
	}
	return s.open(stored)
}

// List returns the environment's provider configs
func (s *ProviderConfigService) List(ctx context.Context, environmentID int64) ([]*domain.ProviderConfig, error) {
	rows, err := s.configRepo.List(ctx, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider configs: %w", err)
	}

	configs := make([]*domain.ProviderConfig, 0, len(rows))
	for _, row := range rows {
		config, err := s.open(row)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, nil
}

// Delete removes a provider config
func (s *ProviderConfigService) Delete(ctx context.Context, uniqueKey string, environmentID int64) error {
	if _, err := s.Get(ctx, uniqueKey, environmentID); err != nil {
		return err
	}
	if err := s.configRepo.Delete(ctx, uniqueKey, environmentID); err != nil {
		s.logger.Error().Err(err).Str("providerConfigKey", uniqueKey).Msg("Failed to delete provider config")
		return fmt.Errorf("failed to delete provider config: %w", err)
	}

	s.logger.Info().Int64("environmentId", environmentID).Str("providerConfigKey", uniqueKey).Msg("Provider configuration deleted successfully")
	return nil
}

func (s *ProviderConfigService) open(stored *domain.StoredProviderConfig) (*domain.ProviderConfig, error) {
	secret, err := s.codec.OpenSecret(stored.ClientSecret, stored.ClientSecretIV, stored.ClientSecretTag)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt client secret: %w", err)
	}
	return &domain.ProviderConfig{
		ID:            stored.ID,
		UniqueKey:     stored.UniqueKey,
		EnvironmentID: stored.EnvironmentID,
		Provider:      stored.Provider,
		ClientID:      stored.ClientID,
		ClientSecret:  secret,
		Scopes:        stored.Scopes,
		CreatedAt:     stored.CreatedAt,
		UpdatedAt:     stored.UpdatedAt,
	}, nil
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
