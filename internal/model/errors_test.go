package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindMatching(t *testing.T) {
	err := NewError(ErrorKindTimeout, "read frame", errors.New("no reply"))
	wrapped := fmt.Errorf("command c-1: %w", err)

	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.NotErrorIs(t, wrapped, ErrIO)
	assert.Equal(t, ErrorKindTimeout, KindOf(wrapped))
	assert.Equal(t, "read frame: no reply", err.Error())
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	err := NewError(ErrorKindIO, "read frame", ErrConnectionLost)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, ErrIO)
}

func TestKindOfPlainErrors(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrorKindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, ErrorKindCancelled, KindOf(context.Canceled))
	assert.Equal(t, ErrorKindIO, KindOf(errors.New("broken pipe")))
}

func TestResultBuilders(t *testing.T) {
	cmd := NewWriteCommand("", "#500", "12.5", 2*time.Second)
	assert.Contains(t, cmd.ID, "write-")

	ok := Succeeded(cmd, "OK", 50*time.Millisecond)
	assert.True(t, ok.Success)
	assert.NoError(t, ok.Err())

	failed := Failed(cmd, NewError(ErrorKindProtocol, "decode", errors.New("truncated")), time.Millisecond)
	assert.False(t, failed.Success)
	assert.Equal(t, ErrorKindProtocol, failed.ErrorKind)
	assert.Equal(t, cmd.ID, failed.ID)
	assert.ErrorIs(t, failed.Err(), ErrProtocol)
}

func TestExecuteCommandCopiesParameters(t *testing.T) {
	params := map[string]interface{}{"X": 1.5}
	cmd := NewExecuteCommand("exec-1", "1234", params, "", time.Second)
	params["X"] = 99.0

	payload := cmd.Payload.(ExecutePayload)
	assert.Equal(t, 1.5, payload.Parameters["X"])
}
