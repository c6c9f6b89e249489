// internal/repository/command_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dnc-service/internal/database"
	"dnc-service/internal/model"
)

const commandColumns = `id, command_id, kind, success, error_kind, error_message,
			latency_ms, data, source, completed_at, created_at`

// commandRepository implements CommandRepository interface
type commandRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCommandRepository creates a new command journal repository
func NewCommandRepository(db *database.DB, logger *zap.Logger) CommandRepository {
	return &commandRepository{
		db:     db,
		logger: logger,
	}
}

// Create journals a command result
func (r *commandRepository) Create(ctx context.Context, source string, result model.CommandResult) error {
	query := `
		INSERT INTO command_journal (
			command_id, kind, success, error_kind, error_message,
			latency_ms, data, source, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	data, err := encodeData(result.Data)
	if err != nil {
		return fmt.Errorf("failed to encode result data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		result.ID, string(result.Kind), result.Success,
		nullString(string(result.ErrorKind)), nullString(result.Error),
		result.Latency.Milliseconds(), data, source, result.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to journal command", zap.String("command_id", result.ID), zap.Error(err))
		return fmt.Errorf("failed to journal command: %w", err)
	}

	return nil
}

// List returns journaled commands, newest first
func (r *commandRepository) List(ctx context.Context, filter *CommandFilter) ([]*CommandEntry, error) {
	query, args := buildCommandListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	entries := make([]*CommandEntry, 0)
	for rows.Next() {
		entry := &CommandEntry{}
		var (
			kind, errorKind, errorMessage sql.NullString
			data                          []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.CommandID, &kind, &entry.Success, &errorKind, &errorMessage,
			&entry.LatencyMS, &data, &entry.Source, &entry.CompletedAt, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		entry.Kind = model.CommandKind(kind.String)
		entry.ErrorKind = model.ErrorKind(errorKind.String)
		entry.Error = errorMessage.String
		if len(data) > 0 {
			entry.Data = json.RawMessage(data)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commands: %w", err)
	}
	return entries, nil
}

// buildCommandListQuery builds the filtered listing query and its arguments
func buildCommandListQuery(filter *CommandFilter) (string, []interface{}) {
	if filter == nil {
		filter = &CommandFilter{}
	}

	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Kind != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, string(*filter.Kind))
		argIndex++
	}

	if filter.FailedOnly {
		whereConditions = append(whereConditions, "success = FALSE")
	}

	if filter.Since != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("completed_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s FROM command_journal %s ORDER BY completed_at DESC, id DESC LIMIT $%d",
		commandColumns, whereClause, argIndex)
	args = append(args, ClampLimit(filter.Limit))

	return query, args
}

// DeleteOlderThan removes journal entries completed before olderThan
func (r *commandRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM command_journal WHERE completed_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old commands: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Deleted old journal commands",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("older_than", olderThan),
	)

	return rowsAffected, nil
}

func encodeData(data interface{}) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
