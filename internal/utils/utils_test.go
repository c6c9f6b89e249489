package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"dnc-service/internal/config"
	"dnc-service/internal/model"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	logger, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dnc.log")
	logger, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: path, MaxSize: 1})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestCommandLoggerFailureFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cmd := model.NewReadCommand("read-1", "#100", 1, time.Second)

	cl := NewCommandLogger(zap.New(core), cmd)
	cl.Failure(model.Errorf(model.ErrorKindTimeout, "read frame", "no reply"))

	entries := logs.FilterMessage("Command failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "read-1", fields["command_id"])
	assert.Equal(t, "READ", fields["kind"])
	assert.Equal(t, "TIMEOUT", fields["error_kind"])
	assert.Contains(t, fields, "elapsed")
}

func TestConnectionLoggerStatusLevel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	params := model.ConnectionParams{
		Transport: model.TransportSocket,
		Vendor:    model.VendorFanuc,
		Socket:    model.SocketParams{Host: "10.0.0.9", Port: 8193},
	}

	cl := NewConnectionLogger(zap.New(core), params)
	cl.LogStatus(model.StateConnected, model.StateError, "transport lost")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "10.0.0.9:8193", entries[0].ContextMap()["address"])
}

func TestKindErrorResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[model.ErrorKind]int{
		model.ErrorKindValidation: http.StatusBadRequest,
		model.ErrorKindConnection: http.StatusServiceUnavailable,
		model.ErrorKindTimeout:    http.StatusGatewayTimeout,
		model.ErrorKindProtocol:   http.StatusBadGateway,
	}
	for kind, status := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Set("request_id", "req-1")

		KindErrorResponse(c, "command failed", model.NewError(kind, "op", errors.New("boom")))

		assert.Equal(t, status, w.Code)
		var resp APIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, string(kind), resp.Error.Code)
		assert.Equal(t, "req-1", resp.RequestID)
	}
}
