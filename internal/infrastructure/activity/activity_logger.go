package activity

import (
	"context"
	"fmt"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger persists activity entries through an ActivityRepository and echoes
// them to the service log
type Logger struct {
	repo   ports.ActivityRepository
	logger zerolog.Logger
}

// NewLogger creates an activity logger
func NewLogger(repo ports.ActivityRepository, logger zerolog.Logger) *Logger {
	return &Logger{repo: repo, logger: logger}
}

// Log stores one entry; entries without a log id are rejected
func (l *Logger) Log(ctx context.Context, entry domain.ActivityEntry) error {
	if entry.ActivityLogID == "" {
		return domain.NewError(domain.KindInvalidRequest, "activity log id is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if err := l.repo.Insert(ctx, &entry); err != nil {
		return fmt.Errorf("failed to store activity entry: %w", err)
	}

	l.logger.Debug().
		Str("activityLogId", entry.ActivityLogID).
		Str("level", string(entry.Level)).
		Msg(entry.Content)
	return nil
}

// Entries returns the entries of one activity log in insertion order
func (l *Logger) Entries(ctx context.Context, activityLogID string) ([]*domain.ActivityEntry, error) {
	entries, err := l.repo.ListByLog(ctx, activityLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity entries: %w", err)
	}
	return entries, nil
}
