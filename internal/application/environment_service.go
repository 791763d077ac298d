package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
)

// EnvironmentService handles environments and their secret keys
type EnvironmentService struct {
	envRepo ports.EnvironmentRepository
	logger  zerolog.Logger
}

// NewEnvironmentService creates a new environment service
func NewEnvironmentService(
	envRepo ports.EnvironmentRepository,
	logger zerolog.Logger,
) *EnvironmentService {
	return &EnvironmentService{
		envRepo: envRepo,
		logger:  logger,
	}
}

// Create creates a new environment with a generated secret key. An existing
// environment with the same name is returned unchanged.
func (s *EnvironmentService) Create(ctx context.Context, name string) (*domain.Environment, error) {
	return s.create(ctx, name, "")
}

// EnsureDefault returns the named environment, creating it with secretKey
// (or a generated key when empty) if it does not exist yet
func (s *EnvironmentService) EnsureDefault(ctx context.Context, name, secretKey string) (*domain.Environment, error) {
	return s.create(ctx, name, secretKey)
}

func (s *EnvironmentService) create(ctx context.Context, name, secretKey string) (*domain.Environment, error) {
	if name == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "environment name is required")
	}

	existing, err := s.envRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing environment: %w", err)
	}
	if existing != nil {
		s.logger.Info().
			Int64("environmentId", existing.ID).
			Str("environment", name).
			Msg("Environment already exists, returning existing")
		return existing, nil
	}

	if secretKey == "" {
		// 32 bytes = 64 hex characters
		keyBytes := make([]byte, 32)
		if _, err := rand.Read(keyBytes); err != nil {
			return nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		secretKey = hex.EncodeToString(keyBytes)
	}

	now := time.Now().UTC()
	env := &domain.Environment{
		Name:      name,
		SecretKey: secretKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.envRepo.Create(ctx, env); err != nil {
		s.logger.Error().Err(err).Str("environment", name).Msg("Failed to create environment")
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	s.logger.Info().
		Int64("environmentId", env.ID).
		Str("environment", name).
		Msg("Created new environment")

	return env, nil
}

// Authenticate resolves the environment owning secretKey
func (s *EnvironmentService) Authenticate(ctx context.Context, secretKey string) (*domain.Environment, error) {
	if secretKey == "" {
		return nil, domain.NewError(domain.KindUnauthorized, "secret key is required")
	}

	env, err := s.envRepo.GetBySecretKey(ctx, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	if env == nil {
		return nil, domain.NewError(domain.KindUnauthorized, "invalid secret key")
	}
	return env, nil
}

// GetByID returns an environment by ID
func (s *EnvironmentService) GetByID(ctx context.Context, id int64) (*domain.Environment, error) {
	env, err := s.envRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	if env == nil {
		return nil, domain.NewError(domain.KindUnknownEnvironment, "environment not found").
			WithField("environmentId", fmt.Sprint(id))
	}
	return env, nil
}
