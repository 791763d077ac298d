package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

const connectionColumns = `id, connection_id, provider_config_key, environment_id, credentials, credentials_iv,
	credentials_tag, connection_config, metadata, created_at, updated_at`

type connectionRepository struct {
	db *sql.DB
}

var _ ports.ConnectionRepository = (*connectionRepository)(nil)

// NewConnectionRepository creates a PostgreSQL implementation of ports.ConnectionRepository
func NewConnectionRepository(db *sql.DB) ports.ConnectionRepository {
	return &connectionRepository{db: db}
}

// Upsert inserts or replaces a connection. xmax is zero only for rows the
// statement inserted, which tells a fresh row from an overwritten one.
func (repo *connectionRepository) Upsert(ctx context.Context, conn *domain.StoredConnection) (int64, bool, error) {
	config, metadata, err := encodeMaps(conn)
	if err != nil {
		return 0, false, err
	}

	const q = `INSERT INTO connections
			(connection_id, provider_config_key, environment_id, credentials, credentials_iv, credentials_tag, connection_config, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)
		ON CONFLICT (provider_config_key, connection_id, environment_id) DO UPDATE SET
			credentials = EXCLUDED.credentials,
			credentials_iv = EXCLUDED.credentials_iv,
			credentials_tag = EXCLUDED.credentials_tag,
			connection_config = EXCLUDED.connection_config,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id, (xmax = 0)`

	var (
		id      int64
		created bool
	)
	err = repo.db.QueryRowContext(ctx, q,
		conn.ConnectionID, conn.ProviderConfigKey, conn.EnvironmentID,
		conn.Credentials, conn.CredentialsIV, conn.CredentialsTag, config, metadata,
	).Scan(&id, &created)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert connection: %w", err)
	}
	return id, created, nil
}

// Insert creates a connection. A conflicting triple inserts nothing and
// returns no row.
func (repo *connectionRepository) Insert(ctx context.Context, conn *domain.StoredConnection) (int64, error) {
	config, metadata, err := encodeMaps(conn)
	if err != nil {
		return 0, err
	}

	const q = `INSERT INTO connections
			(connection_id, provider_config_key, environment_id, credentials, credentials_iv, credentials_tag, connection_config, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)
		ON CONFLICT (provider_config_key, connection_id, environment_id) DO NOTHING
		RETURNING id`

	var id int64
	err = repo.db.QueryRowContext(ctx, q,
		conn.ConnectionID, conn.ProviderConfigKey, conn.EnvironmentID,
		conn.Credentials, conn.CredentialsIV, conn.CredentialsTag, config, metadata,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrConnectionAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert connection: %w", err)
	}
	return id, nil
}

// Get retrieves a connection by its triple
func (repo *connectionRepository) Get(ctx context.Context, ref domain.ConnectionRef) (*domain.StoredConnection, error) {
	q := `SELECT ` + connectionColumns + ` FROM connections
		WHERE connection_id = $1 AND provider_config_key = $2 AND environment_id = $3`

	conn, err := scanConnection(repo.db.QueryRowContext(ctx, q, ref.ConnectionID, ref.ProviderConfigKey, ref.EnvironmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// Update rewrites the mutable columns of an existing connection
func (repo *connectionRepository) Update(ctx context.Context, conn *domain.StoredConnection) error {
	config, metadata, err := encodeMaps(conn)
	if err != nil {
		return err
	}

	const q = `UPDATE connections SET
			credentials = $4, credentials_iv = $5, credentials_tag = $6,
			connection_config = $7::jsonb, metadata = $8::jsonb, updated_at = NOW()
		WHERE connection_id = $1 AND provider_config_key = $2 AND environment_id = $3`

	result, err := repo.db.ExecContext(ctx, q,
		conn.ConnectionID, conn.ProviderConfigKey, conn.EnvironmentID,
		conn.Credentials, conn.CredentialsIV, conn.CredentialsTag, config, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return requireRow(result, conn.ConnectionID, conn.ProviderConfigKey)
}

// Delete removes a connection by its triple
func (repo *connectionRepository) Delete(ctx context.Context, ref domain.ConnectionRef) error {
	const q = `DELETE FROM connections WHERE connection_id = $1 AND provider_config_key = $2 AND environment_id = $3`

	result, err := repo.db.ExecContext(ctx, q, ref.ConnectionID, ref.ProviderConfigKey, ref.EnvironmentID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return requireRow(result, ref.ConnectionID, ref.ProviderConfigKey)
}

// List retrieves the environment's connections ordered by id
func (repo *connectionRepository) List(ctx context.Context, environmentID int64, connectionID string) ([]*domain.StoredConnection, error) {
	q := `SELECT ` + connectionColumns + ` FROM connections WHERE environment_id = $1`
	args := []any{environmentID}
	if connectionID != "" {
		q += ` AND connection_id = $2`
		args = append(args, connectionID)
	}
	q += ` ORDER BY id`

	rows, err := repo.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*domain.StoredConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}
	return conns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*domain.StoredConnection, error) {
	var (
		conn             domain.StoredConnection
		config, metadata []byte
	)
	err := row.Scan(&conn.ID, &conn.ConnectionID, &conn.ProviderConfigKey, &conn.EnvironmentID,
		&conn.Credentials, &conn.CredentialsIV, &conn.CredentialsTag, &config, &metadata,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if conn.ConnectionConfig, err = stringMap(config); err != nil {
		return nil, err
	}
	if conn.Metadata, err = stringMap(metadata); err != nil {
		return nil, err
	}
	return &conn, nil
}

func encodeMaps(conn *domain.StoredConnection) (string, string, error) {
	config, err := toJSON(nonNil(conn.ConnectionConfig))
	if err != nil {
		return "", "", err
	}
	metadata, err := toJSON(nonNil(conn.Metadata))
	if err != nil {
		return "", "", err
	}
	return config, metadata, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func requireRow(result sql.Result, connectionID, providerConfigKey string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return domain.NewError(domain.KindUnknownConnection, "connection not found").
			WithField("connectionId", connectionID).
			WithField("providerConfigKey", providerConfigKey)
	}
	return nil
}
