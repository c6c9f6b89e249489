// internal/transport/transport.go
package transport

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dnc-service/internal/model"
)

const (
	// DefaultBufferSize is the receive buffer of stream transports
	DefaultBufferSize = 1024
	// MaxFrameSize bounds a single reply frame
	MaxFrameSize = 64 * 1024
	// DefaultConnectTimeout applies when the params carry no timeout
	DefaultConnectTimeout = 10 * time.Second
	// discardPoll is how long Discard waits for more bytes before it treats the line as quiet
	discardPoll = 5 * time.Millisecond
)

// Transport is a byte-level duplex channel to one controller.
// Every variant reports failures as *model.Error so callers never branch on the kind.
type Transport interface {
	Open(ctx context.Context) error
	WriteFrame(ctx context.Context, frame []byte) error
	ReadFrame(ctx context.Context, deadline time.Time) ([]byte, error)
	// Discard drops input that arrived but was never read, buffered partial
	// frames included, and returns the number of bytes dropped.
	Discard(ctx context.Context) (int, error)
	Close() error
	IsAlive() bool
	Kind() model.TransportKind
}

// New creates the transport variant selected by params.Transport
func New(params *model.ConnectionParams, logger *zap.Logger) (Transport, error) {
	switch params.Transport {
	case model.TransportSerial:
		return NewSerialTransport(params.Serial, params.Timeout, logger), nil
	case model.TransportSocket:
		return NewTCPTransport(params.Socket, params.Timeout, logger), nil
	case model.TransportChannel:
		return NewChannelTransport(params.Channel, params.Timeout, logger), nil
	case model.TransportUSB:
		return NewUSBTransport(params.USB, params.Timeout, logger), nil
	default:
		return nil, model.Errorf(model.ErrorKindValidation, "create transport", "unsupported transport: %s", params.Transport)
	}
}

func connectTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultConnectTimeout
	}
	return d
}

// effectiveDeadline returns the earlier of deadline and the context deadline
func effectiveDeadline(ctx context.Context, deadline time.Time) time.Time {
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		return d
	}
	return deadline
}

// ctxError maps a finished context onto the taxonomy
func ctxError(op string, ctx context.Context) error {
	return model.NewError(model.KindOf(ctx.Err()), op, ctx.Err())
}

// frameBuffer splits a byte stream into newline terminated frames.
// Bytes following a delimiter stay buffered for the next frame.
type frameBuffer struct {
	buf []byte
	max int
}

func newFrameBuffer(max int) *frameBuffer {
	if max <= 0 {
		max = MaxFrameSize
	}
	return &frameBuffer{max: max}
}

func (f *frameBuffer) push(p []byte) error {
	f.buf = append(f.buf, p...)
	if len(f.buf) > f.max && bytes.IndexByte(f.buf, '\n') < 0 {
		size := len(f.buf)
		f.buf = nil
		return fmt.Errorf("frame exceeds %d bytes (%d buffered)", f.max, size)
	}
	return nil
}

// pop returns the next complete frame without its line terminator
func (f *frameBuffer) pop() ([]byte, bool) {
	i := bytes.IndexByte(f.buf, '\n')
	if i < 0 {
		return nil, false
	}
	frame := make([]byte, i)
	copy(frame, f.buf[:i])
	f.buf = f.buf[i+1:]
	return bytes.TrimSuffix(frame, []byte{'\r'}), true
}

// reset drops everything buffered and returns how many bytes it held
func (f *frameBuffer) reset() int {
	n := len(f.buf)
	f.buf = nil
	return n
}
