// internal/transport/channel.go
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// ChannelMessage is the structured message exchanged over a duplex channel
type ChannelMessage struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	Timestamp  float64                `json:"timestamp"`
}

// ChannelReply is the minimal shape every channel response carries
type ChannelReply struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HandshakeCommand opens every channel session
const HandshakeCommand = "hello"

// ChannelPath resolves a channel name to its socket path
func ChannelPath(config model.ChannelParams) string {
	name := strings.TrimSpace(config.Name)
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	dir := config.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name+".sock")
}

// UnixTimestamp renders t as fractional unix seconds
func UnixTimestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ChannelTransport implements Transport over a named duplex channel.
// Messages are newline delimited JSON documents.
type ChannelTransport struct {
	*streamConn
	config  model.ChannelParams
	path    string
	timeout time.Duration
}

// NewChannelTransport creates a new duplex channel transport
func NewChannelTransport(config model.ChannelParams, timeout time.Duration, logger *zap.Logger) *ChannelTransport {
	path := ChannelPath(config)
	return &ChannelTransport{
		streamConn: newStreamConn(model.TransportChannel, logger.With(
			zap.String("transport", "channel"),
			zap.String("channel", config.Name),
		)),
		config:  config,
		path:    path,
		timeout: connectTimeout(timeout),
	}
}

// Open connects to the channel and performs the named handshake
func (ct *ChannelTransport) Open(ctx context.Context) error {
	if ct.IsAlive() {
		return nil
	}

	ct.logger.Info("Opening duplex channel",
		zap.String("path", ct.path),
		zap.Duration("timeout", ct.timeout),
	)

	dialer := &net.Dialer{Timeout: ct.timeout}
	conn, err := dialer.DialContext(ctx, "unix", ct.path)
	if err != nil {
		ct.logger.Error("Failed to open duplex channel", zap.Error(err))
		return model.NewError(model.ErrorKindConnection, "open channel", fmt.Errorf("failed to connect to %s: %w", ct.path, err))
	}
	ct.attach(conn)

	hsCtx, cancel := context.WithTimeout(ctx, ct.timeout)
	defer cancel()

	if err := ct.handshake(hsCtx); err != nil {
		ct.Close()
		ct.logger.Error("Channel handshake failed", zap.Error(err))
		return model.NewError(model.ErrorKindConnection, "channel handshake", err)
	}

	ct.logger.Info("Duplex channel opened successfully")
	return nil
}

func (ct *ChannelTransport) handshake(ctx context.Context) error {
	hello, err := json.Marshal(ChannelMessage{
		Command:    HandshakeCommand,
		Parameters: map[string]interface{}{"channel": ct.config.Name},
		Timestamp:  UnixTimestamp(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("failed to encode handshake: %w", err)
	}

	if err := ct.WriteFrame(ctx, append(hello, '\n')); err != nil {
		return err
	}

	frame, err := ct.ReadFrame(ctx, time.Now().Add(ct.timeout))
	if err != nil {
		return err
	}

	var reply ChannelReply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return fmt.Errorf("malformed handshake reply: %w", err)
	}
	if !reply.Success {
		return fmt.Errorf("handshake rejected: %s", reply.Error)
	}
	return nil
}
