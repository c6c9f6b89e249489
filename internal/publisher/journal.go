// internal/publisher/journal.go
package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dnc-service/internal/model"
	"dnc-service/internal/repository"
)

// JournalSink persists command results and status changes
type JournalSink struct {
	commands repository.CommandRepository
	statuses repository.StatusRepository
	logger   *zap.Logger
}

// NewJournalSink creates a journal sink
func NewJournalSink(commands repository.CommandRepository, statuses repository.StatusRepository, logger *zap.Logger) *JournalSink {
	return &JournalSink{
		commands: commands,
		statuses: statuses,
		logger:   logger.With(zap.String("component", "journal-sink")),
	}
}

// Name returns the sink name
func (s *JournalSink) Name() string {
	return "journal"
}

// Start is a no-op; the database is opened by the caller
func (s *JournalSink) Start(ctx context.Context) error {
	return nil
}

// Publish writes the event to its table
func (s *JournalSink) Publish(ctx context.Context, event model.Event) error {
	switch data := event.Data.(type) {
	case model.CommandResult:
		return s.commands.Create(ctx, event.Source, data)
	case model.ConnectionStatus:
		return s.statuses.Create(ctx, event.Source, data)
	default:
		return fmt.Errorf("unexpected %s payload %T", event.Type, event.Data)
	}
}

// Cleanup deletes entries older than retention
func (s *JournalSink) Cleanup(ctx context.Context, retention time.Duration) error {
	olderThan := time.Now().Add(-retention)

	deletedCommands, cmdErr := s.commands.DeleteOlderThan(ctx, olderThan)
	deletedStatuses, statusErr := s.statuses.DeleteOlderThan(ctx, olderThan)
	if err := multierr.Combine(cmdErr, statusErr); err != nil {
		return fmt.Errorf("journal cleanup failed: %w", err)
	}

	if deletedCommands > 0 || deletedStatuses > 0 {
		s.logger.Info("Cleaned up journal",
			zap.Int64("commands_deleted", deletedCommands),
			zap.Int64("statuses_deleted", deletedStatuses),
		)
	}
	return nil
}

// Close is a no-op; the database is closed by the caller
func (s *JournalSink) Close() error {
	return nil
}
