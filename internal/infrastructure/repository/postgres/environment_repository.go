package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

type environmentRepository struct {
	db *sql.DB
}

var _ ports.EnvironmentRepository = (*environmentRepository)(nil)

// NewEnvironmentRepository creates a PostgreSQL implementation of ports.EnvironmentRepository
func NewEnvironmentRepository(db *sql.DB) ports.EnvironmentRepository {
	return &environmentRepository{db: db}
}

// Create inserts an environment; a preset ID is kept, otherwise the sequence assigns one
func (repo *environmentRepository) Create(ctx context.Context, env *domain.Environment) error {
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	env.UpdatedAt = env.CreatedAt

	var err error
	if env.ID != 0 {
		_, err = repo.db.ExecContext(ctx,
			`INSERT INTO environments (id, name, secret_key, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
			env.ID, env.Name, env.SecretKey, env.CreatedAt)
	} else {
		err = repo.db.QueryRowContext(ctx,
			`INSERT INTO environments (name, secret_key, created_at, updated_at) VALUES ($1, $2, $3, $3) RETURNING id`,
			env.Name, env.SecretKey, env.CreatedAt).Scan(&env.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	return nil
}

func (repo *environmentRepository) GetByID(ctx context.Context, id int64) (*domain.Environment, error) {
	return repo.findOne(ctx, `id = $1`, id)
}

func (repo *environmentRepository) GetBySecretKey(ctx context.Context, secretKey string) (*domain.Environment, error) {
	return repo.findOne(ctx, `secret_key = $1`, secretKey)
}

func (repo *environmentRepository) GetByName(ctx context.Context, name string) (*domain.Environment, error) {
	return repo.findOne(ctx, `name = $1`, name)
}

func (repo *environmentRepository) findOne(ctx context.Context, where string, arg any) (*domain.Environment, error) {
	q := `SELECT id, name, secret_key, created_at, updated_at FROM environments WHERE ` + where

	var env domain.Environment
	err := repo.db.QueryRowContext(ctx, q, arg).Scan(&env.ID, &env.Name, &env.SecretKey, &env.CreatedAt, &env.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return &env, nil
}

type activityRepository struct {
	db *sql.DB
}

var _ ports.ActivityRepository = (*activityRepository)(nil)

// NewActivityRepository creates a PostgreSQL implementation of ports.ActivityRepository
func NewActivityRepository(db *sql.DB) ports.ActivityRepository {
	return &activityRepository{db: db}
}

func (repo *activityRepository) Insert(ctx context.Context, entry *domain.ActivityEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	const q = `INSERT INTO activities (id, activity_log_id, level, content, timestamp) VALUES ($1, $2, $3, $4, $5)`
	if _, err := repo.db.ExecContext(ctx, q, entry.ID, entry.ActivityLogID, string(entry.Level), entry.Content, ts); err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func (repo *activityRepository) ListByLog(ctx context.Context, activityLogID string) ([]*domain.ActivityEntry, error) {
	const q = `SELECT id, activity_log_id, level, content, timestamp FROM activities
		WHERE activity_log_id = $1 ORDER BY timestamp, id`

	rows, err := repo.db.QueryContext(ctx, q, activityLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ActivityEntry
	for rows.Next() {
		var (
			entry domain.ActivityEntry
			level string
		)
		if err := rows.Scan(&entry.ID, &entry.ActivityLogID, &level, &entry.Content, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		entry.Level = domain.ActivityLevel(level)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return entries, nil
}
