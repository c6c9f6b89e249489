// internal/transport/tcp.go
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// TCPTransport implements Transport over a TCP socket
type TCPTransport struct {
	*streamConn
	config  model.SocketParams
	timeout time.Duration
}

// NewTCPTransport creates a new TCP transport
func NewTCPTransport(config model.SocketParams, timeout time.Duration, logger *zap.Logger) *TCPTransport {
	return &TCPTransport{
		streamConn: newStreamConn(model.TransportSocket, logger.With(
			zap.String("transport", "tcp"),
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		)),
		config:  config,
		timeout: connectTimeout(timeout),
	}
}

// Open dials the controller
func (tc *TCPTransport) Open(ctx context.Context) error {
	if tc.IsAlive() {
		return nil
	}

	address := net.JoinHostPort(tc.config.Host, strconv.Itoa(tc.config.Port))
	tc.logger.Info("Opening TCP connection",
		zap.String("address", address),
		zap.Duration("timeout", tc.timeout),
	)

	dialer := &net.Dialer{
		Timeout:   tc.timeout,
		KeepAlive: 30 * time.Second,
	}
	if !tc.config.KeepAlive {
		dialer.KeepAlive = -1
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.Error(err))
		return model.NewError(model.ErrorKindConnection, "open tcp", fmt.Errorf("failed to connect to %s: %w", address, err))
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	tc.attach(conn)
	tc.logger.Info("TCP connection opened successfully")
	return nil
}
