// internal/repository/interfaces.go
package repository

import (
	"context"
	"encoding/json"
	"time"

	"dnc-service/internal/model"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// CommandRepository journals command results
type CommandRepository interface {
	Create(ctx context.Context, source string, result model.CommandResult) error
	List(ctx context.Context, filter *CommandFilter) ([]*CommandEntry, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// StatusRepository journals connection status changes
type StatusRepository interface {
	Create(ctx context.Context, source string, status model.ConnectionStatus) error
	List(ctx context.Context, limit int) ([]*StatusEntry, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// CommandEntry is one journaled command result
type CommandEntry struct {
	ID          int64             `json:"id"`
	CommandID   string            `json:"command_id"`
	Kind        model.CommandKind `json:"kind"`
	Success     bool              `json:"success"`
	ErrorKind   model.ErrorKind   `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	LatencyMS   int64             `json:"latency_ms"`
	Data        json.RawMessage   `json:"data,omitempty"`
	Source      string            `json:"source"`
	CompletedAt time.Time         `json:"completed_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// StatusEntry is one journaled connection status change
type StatusEntry struct {
	ID         int64                 `json:"id"`
	State      model.ConnectionState `json:"state"`
	Message    string                `json:"message"`
	DeviceInfo map[string]string     `json:"device_info,omitempty"`
	Source     string                `json:"source"`
	ChangedAt  time.Time             `json:"changed_at"`
	CreatedAt  time.Time             `json:"created_at"`
}

// CommandFilter narrows a journal listing
type CommandFilter struct {
	Kind       *model.CommandKind
	FailedOnly bool
	Since      *time.Time
	Limit      int
}

// ClampLimit bounds a requested page size
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}
