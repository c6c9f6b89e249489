// internal/model/command.go
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommandKind represents the operation a command performs on the controller
type CommandKind string

const (
	CommandRead    CommandKind = "READ"
	CommandWrite   CommandKind = "WRITE"
	CommandExecute CommandKind = "EXECUTE"
	CommandQuery   CommandKind = "QUERY"
)

// ReadPayload addresses a controller variable range
type ReadPayload struct {
	Address string `json:"address"`
	Length  int    `json:"length"`
}

// WritePayload sets a controller variable
type WritePayload struct {
	Address string `json:"address"`
	Data    string `json:"data"`
}

// ExecutePayload starts a program with computed machine parameters
type ExecutePayload struct {
	ProgramNumber string                 `json:"program_number"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Program       string                 `json:"program,omitempty"`
}

// QueryPayload asks the controller for a piece of state
type QueryPayload struct {
	QueryType string `json:"query_type"`
}

// Command is one unit of work for the controller. It is not modified after submission.
type Command struct {
	ID        string        `json:"id"`
	Kind      CommandKind   `json:"kind"`
	Payload   interface{}   `json:"payload"`
	Timeout   time.Duration `json:"timeout"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewCommandID returns a system generated id for a command kind
func NewCommandID(kind CommandKind) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(string(kind)), uuid.New().String())
}

func newCommand(id string, kind CommandKind, payload interface{}, timeout time.Duration) *Command {
	if id == "" {
		id = NewCommandID(kind)
	}
	return &Command{
		ID:        id,
		Kind:      kind,
		Payload:   payload,
		Timeout:   timeout,
		CreatedAt: time.Now(),
	}
}

// NewReadCommand creates a Read command
func NewReadCommand(id, address string, length int, timeout time.Duration) *Command {
	return newCommand(id, CommandRead, ReadPayload{Address: address, Length: length}, timeout)
}

// NewWriteCommand creates a Write command
func NewWriteCommand(id, address, data string, timeout time.Duration) *Command {
	return newCommand(id, CommandWrite, WritePayload{Address: address, Data: data}, timeout)
}

// NewExecuteCommand creates an Execute command. The parameter map is copied.
func NewExecuteCommand(id, programNumber string, parameters map[string]interface{}, program string, timeout time.Duration) *Command {
	params := make(map[string]interface{}, len(parameters))
	for k, v := range parameters {
		params[k] = v
	}
	return newCommand(id, CommandExecute, ExecutePayload{
		ProgramNumber: programNumber,
		Parameters:    params,
		Program:       program,
	}, timeout)
}

// NewQueryCommand creates a Query command
func NewQueryCommand(id, queryType string, timeout time.Duration) *Command {
	return newCommand(id, CommandQuery, QueryPayload{QueryType: queryType}, timeout)
}

// CommandResult is the single outcome of a submitted command
type CommandResult struct {
	ID          string        `json:"id"`
	Kind        CommandKind   `json:"kind"`
	Success     bool          `json:"success"`
	Data        interface{}   `json:"data,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Succeeded builds a successful result
func Succeeded(cmd *Command, data interface{}, latency time.Duration) CommandResult {
	return CommandResult{
		ID:          cmd.ID,
		Kind:        cmd.Kind,
		Success:     true,
		Data:        data,
		Latency:     latency,
		CompletedAt: time.Now(),
	}
}

// Failed builds a failed result classified from err
func Failed(cmd *Command, err error, latency time.Duration) CommandResult {
	result := CommandResult{
		Success:     false,
		ErrorKind:   KindOf(err),
		Latency:     latency,
		CompletedAt: time.Now(),
	}
	if cmd != nil {
		result.ID = cmd.ID
		result.Kind = cmd.Kind
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Err returns the result failure as an error, or nil on success
func (r CommandResult) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.ErrorKind, Op: fmt.Sprintf("command %s", r.ID), Err: fmt.Errorf("%s", r.Error)}
}
