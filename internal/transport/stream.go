// internal/transport/stream.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// streamConn holds the shared read/write path of connection oriented transports
type streamConn struct {
	kind       model.TransportKind
	logger     *zap.Logger
	mutex      sync.RWMutex
	conn       net.Conn
	isOpen     bool
	lost       bool
	bufferSize int

	readMutex sync.Mutex
	frames    *frameBuffer
}

func newStreamConn(kind model.TransportKind, logger *zap.Logger) *streamConn {
	return &streamConn{
		kind:       kind,
		logger:     logger,
		bufferSize: DefaultBufferSize,
		frames:     newFrameBuffer(MaxFrameSize),
	}
}

func (s *streamConn) attach(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.conn = conn
	s.isOpen = true
	s.lost = false
	s.frames.reset()
}

func (s *streamConn) current() (net.Conn, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isOpen || s.conn == nil {
		return nil, model.NewError(model.ErrorKindIO, "stream", model.ErrNotOpen)
	}
	if s.lost {
		return nil, model.NewError(model.ErrorKindIO, "stream", model.ErrConnectionLost)
	}
	return s.conn, nil
}

func (s *streamConn) markLost() {
	s.mutex.Lock()
	s.lost = true
	s.mutex.Unlock()
}

// Kind returns the transport kind
func (s *streamConn) Kind() model.TransportKind {
	return s.kind
}

// IsAlive reports whether the connection is open and has not been lost
func (s *streamConn) IsAlive() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isOpen && s.conn != nil && !s.lost
}

// WriteFrame writes one complete frame
func (s *streamConn) WriteFrame(ctx context.Context, frame []byte) error {
	conn, err := s.current()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctxError("write frame", ctx)
	default:
	}

	deadline := effectiveDeadline(ctx, time.Time{})
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return model.NewError(model.ErrorKindIO, "write frame", fmt.Errorf("failed to set write deadline: %w", err))
	}

	for written := 0; written < len(frame); {
		n, err := conn.Write(frame[written:])
		if err != nil {
			return s.classify("write frame", ctx, err)
		}
		written += n
	}

	s.logger.Debug("Frame written", zap.Int("bytes", len(frame)))
	return nil
}

// ReadFrame reads until a complete frame arrives or the deadline passes
func (s *streamConn) ReadFrame(ctx context.Context, deadline time.Time) ([]byte, error) {
	s.readMutex.Lock()
	defer s.readMutex.Unlock()

	if frame, ok := s.frames.pop(); ok {
		return frame, nil
	}

	conn, err := s.current()
	if err != nil {
		return nil, err
	}

	deadline = effectiveDeadline(ctx, deadline)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, model.NewError(model.ErrorKindIO, "read frame", fmt.Errorf("failed to set read deadline: %w", err))
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, s.bufferSize)
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			if perr := s.frames.push(buffer[:n]); perr != nil {
				return nil, model.NewError(model.ErrorKindIO, "read frame", perr)
			}
			if frame, ok := s.frames.pop(); ok {
				s.logger.Debug("Frame read", zap.Int("bytes", len(frame)))
				return frame, nil
			}
		}
		if err != nil {
			return nil, s.classify("read frame", ctx, err)
		}
		if n == 0 {
			s.markLost()
			return nil, model.NewError(model.ErrorKindIO, "read frame", model.ErrConnectionLost)
		}
	}
}

// Discard drops buffered frames and reads the socket until it stays quiet for discardPoll
func (s *streamConn) Discard(ctx context.Context) (int, error) {
	s.readMutex.Lock()
	defer s.readMutex.Unlock()

	dropped := s.frames.reset()

	conn, err := s.current()
	if err != nil {
		return dropped, err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, s.bufferSize)
	for {
		if ctx.Err() != nil {
			return dropped, ctxError("discard", ctx)
		}
		if err := conn.SetReadDeadline(time.Now().Add(discardPoll)); err != nil {
			return dropped, model.NewError(model.ErrorKindIO, "discard", fmt.Errorf("failed to set read deadline: %w", err))
		}
		n, err := conn.Read(buffer)
		dropped += n
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return dropped, nil
			}
			return dropped, s.classify("discard", ctx, err)
		}
		if n == 0 {
			s.markLost()
			return dropped, model.NewError(model.ErrorKindIO, "discard", model.ErrConnectionLost)
		}
	}
}

func (s *streamConn) classify(op string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctxError(op, ctx)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewError(model.ErrorKindTimeout, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.markLost()
		return model.NewError(model.ErrorKindIO, op, fmt.Errorf("%w: %v", model.ErrConnectionLost, err))
	}
	s.markLost()
	return model.NewError(model.ErrorKindIO, op, err)
}

// Close closes the connection. Closing twice is a no-op.
func (s *streamConn) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isOpen || s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	s.isOpen = false
	s.lost = false

	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Error("Failed to close connection", zap.Error(err))
		return model.NewError(model.ErrorKindConnection, "close", err)
	}

	s.logger.Info("Connection closed")
	return nil
}
