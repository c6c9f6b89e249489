// internal/repository/status_repository.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dnc-service/internal/database"
	"dnc-service/internal/model"
)

// statusRepository implements StatusRepository interface
type statusRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewStatusRepository creates a new status log repository
func NewStatusRepository(db *database.DB, logger *zap.Logger) StatusRepository {
	return &statusRepository{
		db:     db,
		logger: logger,
	}
}

// Create journals a status change
func (r *statusRepository) Create(ctx context.Context, source string, status model.ConnectionStatus) error {
	query := `
		INSERT INTO connection_status_log (state, message, device_info, source, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	var deviceInfo []byte
	if len(status.DeviceInfo) > 0 {
		var err error
		if deviceInfo, err = json.Marshal(status.DeviceInfo); err != nil {
			return fmt.Errorf("failed to encode device info: %w", err)
		}
	}

	if _, err := r.db.ExecContext(ctx, query,
		string(status.State), status.Message, deviceInfo, source, status.Timestamp,
	); err != nil {
		r.logger.Error("Failed to journal status", zap.String("state", string(status.State)), zap.Error(err))
		return fmt.Errorf("failed to journal status: %w", err)
	}
	return nil
}

// List returns the latest status changes, newest first
func (r *statusRepository) List(ctx context.Context, limit int) ([]*StatusEntry, error) {
	query := `
		SELECT id, state, message, device_info, source, changed_at, created_at
		FROM connection_status_log
		ORDER BY changed_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list status log: %w", err)
	}
	defer rows.Close()

	entries := make([]*StatusEntry, 0)
	for rows.Next() {
		entry := &StatusEntry{}
		var (
			state      string
			deviceInfo []byte
		)
		if err := rows.Scan(&entry.ID, &state, &entry.Message, &deviceInfo,
			&entry.Source, &entry.ChangedAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		entry.State = model.ConnectionState(state)
		if len(deviceInfo) > 0 {
			if err := json.Unmarshal(deviceInfo, &entry.DeviceInfo); err != nil {
				return nil, fmt.Errorf("failed to decode device info: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status log: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan removes status entries recorded before olderThan
func (r *statusRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connection_status_log WHERE changed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old status entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
