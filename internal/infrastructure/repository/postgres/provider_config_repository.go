package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

const providerConfigColumns = `id, unique_key, environment_id, provider, client_id, client_secret,
	client_secret_iv, client_secret_tag, scopes, created_at, updated_at`

type providerConfigRepository struct {
	db *sql.DB
}

var _ ports.ProviderConfigRepository = (*providerConfigRepository)(nil)

// NewProviderConfigRepository creates a PostgreSQL implementation of ports.ProviderConfigRepository
func NewProviderConfigRepository(db *sql.DB) ports.ProviderConfigRepository {
	return &providerConfigRepository{db: db}
}

func (repo *providerConfigRepository) GetByKey(ctx context.Context, uniqueKey string, environmentID int64) (*domain.StoredProviderConfig, error) {
	q := `SELECT ` + providerConfigColumns + ` FROM provider_configs WHERE unique_key = $1 AND environment_id = $2`

	config, err := scanProviderConfig(repo.db.QueryRowContext(ctx, q, uniqueKey, environmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}
	return config, nil
}

func (repo *providerConfigRepository) Upsert(ctx context.Context, config *domain.StoredProviderConfig) (int64, error) {
	scopes := config.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	encoded, err := toJSON(scopes)
	if err != nil {
		return 0, err
	}

	const q = `INSERT INTO provider_configs
			(unique_key, environment_id, provider, client_id, client_secret, client_secret_iv, client_secret_tag, scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (unique_key, environment_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			client_secret_iv = EXCLUDED.client_secret_iv,
			client_secret_tag = EXCLUDED.client_secret_tag,
			scopes = EXCLUDED.scopes,
			updated_at = NOW()
		RETURNING id`

	var id int64
	err = repo.db.QueryRowContext(ctx, q,
		config.UniqueKey, config.EnvironmentID, config.Provider, config.ClientID,
		config.ClientSecret, config.ClientSecretIV, config.ClientSecretTag, encoded,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert provider config: %w", err)
	}
	return id, nil
}

func (repo *providerConfigRepository) List(ctx context.Context, environmentID int64) ([]*domain.StoredProviderConfig, error) {
	q := `SELECT ` + providerConfigColumns + ` FROM provider_configs WHERE environment_id = $1 ORDER BY unique_key`

	rows, err := repo.db.QueryContext(ctx, q, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider configs: %w", err)
	}
	defer rows.Close()

	var configs []*domain.StoredProviderConfig
	for rows.Next() {
		config, err := scanProviderConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider configs: %w", err)
	}
	return configs, nil
}

func (repo *providerConfigRepository) Delete(ctx context.Context, uniqueKey string, environmentID int64) error {
	result, err := repo.db.ExecContext(ctx, `DELETE FROM provider_configs WHERE unique_key = $1 AND environment_id = $2`, uniqueKey, environmentID)
	if err != nil {
		return fmt.Errorf("failed to delete provider config: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.NewError(domain.KindUnknownProviderConfig, "provider config not found").
			WithField("providerConfigKey", uniqueKey)
	}
	return nil
}

func scanProviderConfig(row scanner) (*domain.StoredProviderConfig, error) {
	var (
		config domain.StoredProviderConfig
		scopes []byte
	)
	err := row.Scan(&config.ID, &config.UniqueKey, &config.EnvironmentID, &config.Provider,
		&config.ClientID, &config.ClientSecret, &config.ClientSecretIV, &config.ClientSecretTag,
		&scopes, &config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &config.Scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes: %w", err)
		}
	}
	return &config, nil
}
