package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// ConnectionService owns persisted connections. It is the only caller of the
// credential codec, so plaintext credentials never reach a repository.
type ConnectionService struct {
	repository ports.ConnectionRepository
	configRepo ports.ProviderConfigRepository
	envRepo    ports.EnvironmentRepository
	codec      ports.CredentialCodec
	parser     *CredentialParser
	sync       ports.SyncTrigger
	analytics  ports.AnalyticsSink
	events     ports.EventPublisher
	logger     zerolog.Logger
}

// ConnectionCollaborators are the optional side-effect sinks of the service.
// Nil fields are skipped.
type ConnectionCollaborators struct {
	Sync      ports.SyncTrigger
	Analytics ports.AnalyticsSink
	Events    ports.EventPublisher
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	repository ports.ConnectionRepository,
	configRepo ports.ProviderConfigRepository,
	envRepo ports.EnvironmentRepository,
	codec ports.CredentialCodec,
	parser *CredentialParser,
	collaborators ConnectionCollaborators,
	logger zerolog.Logger,
) *ConnectionService {
	return &ConnectionService{
		repository: repository,
		configRepo: configRepo,
		envRepo:    envRepo,
		codec:      codec,
		parser:     parser,
		sync:       collaborators.Sync,
		analytics:  collaborators.Analytics,
		events:     collaborators.Events,
		logger:     logger,
	}
}

// ImportConnectionInput carries caller-supplied credentials for a connection
type ImportConnectionInput struct {
	Ref              domain.ConnectionRef
	AuthMode         domain.AuthMode
	Credentials      map[string]any
	ConnectionConfig map[string]string
	Metadata         map[string]string
}

// Upsert encrypts and stores the connection, replacing any row with the same
// (connection id, provider config key, environment). It returns the row ID
// and whether the row was created.
func (s *ConnectionService) Upsert(ctx context.Context, conn *domain.Connection) (int64, bool, error) {
	if err := conn.Ref().Validate(); err != nil {
		return 0, false, err
	}
	if conn.Credentials == nil {
		return 0, false, domain.NewError(domain.KindIncompleteCredentials, "credentials are required")
	}

	stored, err := s.codec.Encrypt(conn)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encrypt connection: %w", err)
	}

	id, created, err := s.repository.Upsert(ctx, stored)
	if err != nil {
		s.logger.Error().Err(err).
			Str("connectionId", conn.ConnectionID).
			Str("providerConfigKey", conn.ProviderConfigKey).
			Msg("Failed to upsert connection")
		return 0, false, fmt.Errorf("failed to upsert connection: %w", err)
	}
	conn.ID = id
	s.saved(ctx, conn, created)

	return id, created, nil
}

// saved runs the side effects of a successful write
func (s *ConnectionService) saved(ctx context.Context, conn *domain.Connection, created bool) {
	s.logger.Info().
		Int64("environmentId", conn.EnvironmentID).
		Str("connectionId", conn.ConnectionID).
		Str("providerConfigKey", conn.ProviderConfigKey).
		Str("authMode", string(conn.Credentials.AuthMode())).
		Bool("created", created).
		Msg("Connection saved")

	if created && s.sync != nil {
		if err := s.sync.OnConnectionCreated(ctx, conn); err != nil {
			s.logger.Warn().Err(err).Str("connectionId", conn.ConnectionID).Msg("Failed to schedule initial sync")
		}
	}

	s.track(ctx, domain.AnalyticsConnectionUpserted, conn, map[string]any{
		"auth_mode": string(conn.Credentials.AuthMode()),
		"created":   created,
	})
	if created {
		s.publish(domain.ConnectionCreated, conn.Ref())
	} else {
		s.publish(domain.ConnectionUpdated, conn.Ref())
	}
}

// UpsertAPIConnection stores an API key or basic auth connection
func (s *ConnectionService) UpsertAPIConnection(ctx context.Context, input ImportConnectionInput) (*domain.Connection, error) {
	if input.AuthMode != domain.AuthModeAPIKey && input.AuthMode != domain.AuthModeBasic {
		err := domain.NewError(domain.KindUnsupportedAuthMode, fmt.Sprintf("auth mode %q is not an API auth mode", input.AuthMode))
		err.Raw = input.Credentials
		return nil, err
	}
	conn, err := s.prepareImport(ctx, input)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ImportOAuth2Connection stores externally obtained OAuth2 credentials.
// It refuses to overwrite an existing connection.
func (s *ConnectionService) ImportOAuth2Connection(ctx context.Context, input ImportConnectionInput) (*domain.Connection, error) {
	input.AuthMode = domain.AuthModeOAuth2
	return s.importNew(ctx, input)
}

// ImportOAuth1Connection stores externally obtained OAuth1 credentials.
// It refuses to overwrite an existing connection.
func (s *ConnectionService) ImportOAuth1Connection(ctx context.Context, input ImportConnectionInput) (*domain.Connection, error) {
	input.AuthMode = domain.AuthModeOAuth1
	return s.importNew(ctx, input)
}

func (s *ConnectionService) importNew(ctx context.Context, input ImportConnectionInput) (*domain.Connection, error) {
	conn, err := s.prepareImport(ctx, input)
	if err != nil {
		return nil, err
	}

	stored, err := s.codec.Encrypt(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt connection: %w", err)
	}

	// Insert is atomic on the triple, so concurrent imports cannot both win
	id, err := s.repository.Insert(ctx, stored)
	if errors.Is(err, domain.ErrConnectionAlreadyExists) {
		return nil, domain.NewError(domain.KindConnectionAlreadyExists, "a connection already exists for this connection id and provider config key").
			WithField("connectionId", input.Ref.ConnectionID).
			WithField("providerConfigKey", input.Ref.ProviderConfigKey)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("connectionId", conn.ConnectionID).
			Str("providerConfigKey", conn.ProviderConfigKey).
			Msg("Failed to insert connection")
		return nil, fmt.Errorf("failed to insert connection: %w", err)
	}
	conn.ID = id
	s.saved(ctx, conn, true)
	return conn, nil
}

// prepareImport validates the ref and provider config, then parses the raw
// credentials into their typed variant
func (s *ConnectionService) prepareImport(ctx context.Context, input ImportConnectionInput) (*domain.Connection, error) {
	if err := input.Ref.Validate(); err != nil {
		return nil, err
	}

	config, err := s.configRepo.GetByKey(ctx, input.Ref.ProviderConfigKey, input.Ref.EnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}
	if config == nil {
		return nil, domain.NewError(domain.KindUnknownProviderConfig, "provider config not found").
			WithField("providerConfigKey", input.Ref.ProviderConfigKey)
	}

	creds, err := s.parser.Parse(input.Credentials, input.AuthMode)
	if err != nil {
		return nil, err
	}

	return &domain.Connection{
		ConnectionID:      input.Ref.ConnectionID,
		ProviderConfigKey: input.Ref.ProviderConfigKey,
		EnvironmentID:     input.Ref.EnvironmentID,
		Credentials:       creds,
		ConnectionConfig:  nonNil(input.ConnectionConfig),
		Metadata:          nonNil(input.Metadata),
	}, nil
}

// Get loads and decrypts a connection
func (s *ConnectionService) Get(ctx context.Context, ref domain.ConnectionRef) (*domain.Connection, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.repository.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if stored == nil {
		return nil, s.unknownConnection(ctx, ref)
	}

	conn, err := s.codec.Decrypt(stored)
	if err != nil {
		s.logger.Error().Err(err).
			Str("connectionId", ref.ConnectionID).
			Str("providerConfigKey", ref.ProviderConfigKey).
			Msg("Failed to decrypt connection")
		return nil, fmt.Errorf("failed to decrypt connection: %w", err)
	}
	normalizeExpiry(conn)
	return conn, nil
}

// Update re-encrypts the connection and rewrites its mutable fields
func (s *ConnectionService) Update(ctx context.Context, conn *domain.Connection) error {
	if err := conn.Ref().Validate(); err != nil {
		return err
	}

	stored, err := s.codec.Encrypt(conn)
	if err != nil {
		return fmt.Errorf("failed to encrypt connection: %w", err)
	}
	if err := s.repository.Update(ctx, stored); err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return nil
}

// Exists reports whether a connection is stored for ref
func (s *ConnectionService) Exists(ctx context.Context, ref domain.ConnectionRef) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	stored, err := s.repository.Get(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("failed to get connection: %w", err)
	}
	return stored != nil, nil
}

// SetMetadata replaces the connection's metadata
func (s *ConnectionService) SetMetadata(ctx context.Context, ref domain.ConnectionRef, metadata map[string]string) (*domain.Connection, error) {
	return s.editMetadata(ctx, ref, func(*domain.Connection) map[string]string {
		return nonNil(metadata)
	})
}

// UpdateMetadata merges metadata into the connection's existing metadata
func (s *ConnectionService) UpdateMetadata(ctx context.Context, ref domain.ConnectionRef, metadata map[string]string) (*domain.Connection, error) {
	return s.editMetadata(ctx, ref, func(conn *domain.Connection) map[string]string {
		merged := nonNil(conn.Metadata)
		for k, v := range metadata {
			merged[k] = v
		}
		return merged
	})
}

func (s *ConnectionService) editMetadata(ctx context.Context, ref domain.ConnectionRef, edit func(*domain.Connection) map[string]string) (*domain.Connection, error) {
	conn, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	conn.Metadata = edit(conn)
	if err := s.Update(ctx, conn); err != nil {
		return nil, err
	}
	s.publish(domain.ConnectionUpdated, ref)
	return conn, nil
}

// Delete cancels the connection's scheduled sync work and then removes it.
// The row is kept when cancellation fails.
func (s *ConnectionService) Delete(ctx context.Context, ref domain.ConnectionRef) error {
	conn, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}

	if s.sync != nil {
		if err := s.sync.OnConnectionDeleted(ctx, conn); err != nil {
			s.logger.Error().Err(err).
				Str("connectionId", ref.ConnectionID).
				Str("providerConfigKey", ref.ProviderConfigKey).
				Msg("Failed to cancel scheduled sync work, connection kept")
			return fmt.Errorf("failed to cancel sync work: %w", err)
		}
	}

	if err := s.repository.Delete(ctx, ref); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	s.logger.Info().
		Int64("environmentId", ref.EnvironmentID).
		Str("connectionId", ref.ConnectionID).
		Str("providerConfigKey", ref.ProviderConfigKey).
		Msg("Connection deleted")

	s.track(ctx, domain.AnalyticsConnectionDeleted, conn, nil)
	s.publish(domain.ConnectionDeleted, ref)
	return nil
}

// List returns credential-free summaries of the environment's connections
func (s *ConnectionService) List(ctx context.Context, environmentID int64, connectionID string) ([]domain.ConnectionSummary, error) {
	if environmentID == 0 {
		return nil, domain.NewError(domain.KindMissingEnvironment, "environment id is required")
	}

	rows, err := s.repository.List(ctx, environmentID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	providers := make(map[string]string)
	summaries := make([]domain.ConnectionSummary, 0, len(rows))
	for _, row := range rows {
		provider, ok := providers[row.ProviderConfigKey]
		if !ok {
			config, err := s.configRepo.GetByKey(ctx, row.ProviderConfigKey, environmentID)
			if err != nil {
				return nil, fmt.Errorf("failed to get provider config: %w", err)
			}
			if config != nil {
				provider = config.Provider
			}
			providers[row.ProviderConfigKey] = provider
		}
		summaries = append(summaries, domain.ConnectionSummary{
			ID:                row.ID,
			ConnectionID:      row.ConnectionID,
			ProviderConfigKey: row.ProviderConfigKey,
			Provider:          provider,
			CreatedAt:         row.CreatedAt,
		})
	}
	return summaries, nil
}

// unknownConnection builds the lookup-miss error with enough context for an
// operator to find the caller's mistake
func (s *ConnectionService) unknownConnection(ctx context.Context, ref domain.ConnectionRef) error {
	err := domain.NewError(domain.KindUnknownConnection, "no connection matches the provided connection id and provider config key").
		WithField("connectionId", ref.ConnectionID).
		WithField("providerConfigKey", ref.ProviderConfigKey).
		WithField("environmentId", fmt.Sprint(ref.EnvironmentID))

	if env, lookupErr := s.envRepo.GetByID(ctx, ref.EnvironmentID); lookupErr == nil && env != nil {
		err.WithField("environment", env.Name)
	}
	return err
}

func (s *ConnectionService) track(ctx context.Context, name string, conn *domain.Connection, props map[string]any) {
	if s.analytics == nil {
		return
	}
	properties := map[string]any{
		"connection_id":       conn.ConnectionID,
		"provider_config_key": conn.ProviderConfigKey,
	}
	for k, v := range props {
		properties[k] = v
	}
	event := domain.AnalyticsEvent{Name: name, EnvironmentID: conn.EnvironmentID, Properties: properties}
	if err := s.analytics.Track(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", name).Msg("Failed to track analytics event")
	}
}

func (s *ConnectionService) publish(eventType domain.ConnectionEventType, ref domain.ConnectionRef) {
	if s.events == nil {
		return
	}
	s.events.Publish(&domain.ConnectionEvent{
		Type:              eventType,
		EnvironmentID:     ref.EnvironmentID,
		ConnectionID:      ref.ConnectionID,
		ProviderConfigKey: ref.ProviderConfigKey,
		OccurredAt:        time.Now().UTC(),
	})
}

// normalizeExpiry fills a missing OAuth2 expiry from the raw token response,
// which covers rows written before expires_at was stored as its own field
func normalizeExpiry(conn *domain.Connection) {
	creds, ok := conn.OAuth2()
	if !ok || creds.ExpiresAt != nil || creds.Raw == nil {
		return
	}
	if ts, ok := domain.ParseTimestamp(creds.Raw["expires_at"]); ok {
		creds.ExpiresAt = &ts
	}
}

func nonNil(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
