package application

import (
	"context"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// CredentialsService hands out live credentials for a connection
type CredentialsService struct {
	connections *ConnectionService
	refresher   *RefreshCoordinator
	analytics   ports.AnalyticsSink
	logger      zerolog.Logger
}

// NewCredentialsService creates a new credentials service
func NewCredentialsService(
	connections *ConnectionService,
	refresher *RefreshCoordinator,
	analytics ports.AnalyticsSink,
	logger zerolog.Logger,
) *CredentialsService {
	return &CredentialsService{
		connections: connections,
		refresher:   refresher,
		analytics:   analytics,
		logger:      logger,
	}
}

// GetConnectionCredentials loads the connection and, for OAuth2, makes sure
// its access token is fresh before returning it
func (s *CredentialsService) GetConnectionCredentials(ctx context.Context, ref domain.ConnectionRef, opts RefreshOptions) (*domain.Connection, error) {
	conn, err := s.connections.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	if _, ok := conn.OAuth2(); ok {
		creds, err := s.refresher.EnsureFresh(ctx, conn, opts)
		if err != nil {
			return nil, err
		}
		conn.Credentials = creds
	}

	if s.analytics != nil {
		event := domain.AnalyticsEvent{
			Name:          domain.AnalyticsConnectionFetched,
			EnvironmentID: conn.EnvironmentID,
			Properties: map[string]any{
				"connection_id":       conn.ConnectionID,
				"provider_config_key": conn.ProviderConfigKey,
				"auth_mode":           string(conn.Credentials.AuthMode()),
				"instant_refresh":     opts.InstantRefresh,
			},
		}
		if err := s.analytics.Track(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("event", event.Name).Msg("Failed to track analytics event")
		}
	}

	return conn, nil
}
