// internal/model/errors.go
package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a communication failure
type ErrorKind string

const (
	ErrorKindConnection ErrorKind = "CONNECTION"
	ErrorKindIO         ErrorKind = "IO"
	ErrorKindTimeout    ErrorKind = "TIMEOUT"
	ErrorKindProtocol   ErrorKind = "PROTOCOL"
	ErrorKindValidation ErrorKind = "VALIDATION"
	ErrorKindCancelled  ErrorKind = "CANCELLED"
)

// Sentinels matched by errors.Is against any *Error of the same kind
var (
	ErrConnection = errors.New("connection error")
	ErrIO         = errors.New("i/o error")
	ErrTimeout    = errors.New("timeout")
	ErrProtocol   = errors.New("protocol error")
	ErrValidation = errors.New("validation error")
	ErrCancelled  = errors.New("cancelled")

	ErrConnectionLost = errors.New("connection lost")
	ErrNotOpen        = errors.New("transport not open")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorKindConnection:
		return ErrConnection
	case ErrorKindIO:
		return ErrIO
	case ErrorKindTimeout:
		return ErrTimeout
	case ErrorKindProtocol:
		return ErrProtocol
	case ErrorKindValidation:
		return ErrValidation
	case ErrorKindCancelled:
		return ErrCancelled
	}
	return nil
}

// Error is the single error type raised by every layer of the core
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the failing operation
func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.sentinel())
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality against the package sentinels
func (e *Error) Is(target error) bool {
	if s := e.Kind.sentinel(); s != nil && s == target {
		return true
	}
	return false
}

// KindOf classifies any error into the taxonomy
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	}
	return ErrorKindIO
}
