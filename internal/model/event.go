// internal/model/event.go
package model

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventConnectionStatus EventType = "connection.status"
	EventCommandResult    EventType = "command.result"
)

// Event is what the core surfaces to the outer layers
type Event struct {
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewStatusEvent wraps a connection status change
func NewStatusEvent(source string, status ConnectionStatus) Event {
	return Event{
		Type:      EventConnectionStatus,
		Source:    source,
		Data:      status,
		Timestamp: status.Timestamp,
	}
}

// NewResultEvent wraps a command result
func NewResultEvent(source string, result CommandResult) Event {
	return Event{
		Type:      EventCommandResult,
		Source:    source,
		Data:      result,
		Timestamp: result.CompletedAt,
	}
}

// CommandRecord is one entry of the rolling command history
type CommandRecord struct {
	ID        string        `json:"id"`
	Kind      CommandKind   `json:"kind"`
	Status    string        `json:"status"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// Record statuses
const (
	RecordSuccess = "success"
	RecordFailed  = "failed"
)

// StatsSnapshot is a point in time copy of the command statistics
type StatsSnapshot struct {
	TotalCommands      int64         `json:"total_commands"`
	SuccessCount       int64         `json:"success_count"`
	FailureCount       int64         `json:"failure_count"`
	AverageLatency     time.Duration `json:"average_latency"`
	LastCommandLatency time.Duration `json:"last_command_latency"`
	LastCommandTime    time.Time     `json:"last_command_time"`
	SuccessRate        float64       `json:"success_rate"`
}
