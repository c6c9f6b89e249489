// internal/transport/serial.go
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// serialPollInterval bounds a single blocking read so deadlines and cancellation are observed
const serialPollInterval = 100 * time.Millisecond

// portHandle is the subset of serial.Port the transport uses
type portHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// openSerialPort is replaced in tests
var openSerialPort = func(name string, mode *serial.Mode) (portHandle, error) {
	return serial.Open(name, mode)
}

// ListSerialPorts returns the serial ports present on this host
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}
	return ports, nil
}

// SerialTransport implements Transport for serial lines
type SerialTransport struct {
	config  model.SerialParams
	timeout time.Duration
	port    portHandle
	logger  *zap.Logger
	mutex   sync.RWMutex
	isOpen  bool

	readMutex sync.Mutex
	frames    *frameBuffer
}

// NewSerialTransport creates a new serial transport
func NewSerialTransport(config model.SerialParams, timeout time.Duration, logger *zap.Logger) *SerialTransport {
	return &SerialTransport{
		config:  config,
		timeout: connectTimeout(timeout),
		logger: logger.With(
			zap.String("transport", "serial"),
			zap.String("port", config.Port),
		),
		frames: newFrameBuffer(MaxFrameSize),
	}
}

// serialMode translates line settings to the driver's mode
func serialMode(config model.SerialParams) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
	}

	switch config.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch strings.ToLower(config.Parity) {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode
}

// Open opens the serial port
func (st *SerialTransport) Open(ctx context.Context) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctxError("open serial", ctx)
	default:
	}

	st.logger.Info("Opening serial port",
		zap.Int("baud_rate", st.config.BaudRate),
		zap.Int("data_bits", st.config.DataBits),
		zap.Int("stop_bits", st.config.StopBits),
		zap.String("parity", st.config.Parity),
	)

	port, err := openSerialPort(st.config.Port, serialMode(st.config))
	if err != nil {
		st.logger.Error("Failed to open serial port", zap.Error(err))
		return model.NewError(model.ErrorKindConnection, "open serial", fmt.Errorf("failed to open serial port %s: %w", st.config.Port, err))
	}

	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close()
		return model.NewError(model.ErrorKindConnection, "open serial", fmt.Errorf("failed to set read timeout: %w", err))
	}

	st.port = port
	st.isOpen = true
	st.frames.reset()

	st.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial port
func (st *SerialTransport) Close() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return nil
	}

	err := st.port.Close()
	st.port = nil
	st.isOpen = false

	if err != nil {
		st.logger.Error("Failed to close serial port", zap.Error(err))
		return model.NewError(model.ErrorKindConnection, "close serial", err)
	}

	st.logger.Info("Serial port closed successfully")
	return nil
}

// IsAlive reports whether the port handle is open
func (st *SerialTransport) IsAlive() bool {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.isOpen && st.port != nil
}

// Kind returns the transport kind
func (st *SerialTransport) Kind() model.TransportKind {
	return model.TransportSerial
}

func (st *SerialTransport) handle() (portHandle, error) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	if !st.isOpen || st.port == nil {
		return nil, model.NewError(model.ErrorKindIO, "serial", model.ErrNotOpen)
	}
	return st.port, nil
}

// WriteFrame writes one complete frame to the line
func (st *SerialTransport) WriteFrame(ctx context.Context, frame []byte) error {
	port, err := st.handle()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctxError("write frame", ctx)
	default:
	}

	for written := 0; written < len(frame); {
		n, err := port.Write(frame[written:])
		if err != nil {
			st.logger.Error("Serial write failed", zap.Error(err))
			return model.NewError(model.ErrorKindIO, "write frame", fmt.Errorf("failed to write to serial port: %w", err))
		}
		if n == 0 {
			return model.Errorf(model.ErrorKindIO, "write frame", "incomplete write: wrote %d of %d bytes", written, len(frame))
		}
		written += n
	}

	st.logger.Debug("Serial write completed", zap.Int("bytes", len(frame)))
	return nil
}

// Discard drops buffered frames and flushes the driver's input queue.
// The flushed byte count is unknown, only buffered frame bytes are reported.
func (st *SerialTransport) Discard(ctx context.Context) (int, error) {
	st.readMutex.Lock()
	defer st.readMutex.Unlock()

	dropped := st.frames.reset()

	port, err := st.handle()
	if err != nil {
		return dropped, err
	}
	if ctx.Err() != nil {
		return dropped, ctxError("discard", ctx)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return dropped, model.NewError(model.ErrorKindIO, "discard", fmt.Errorf("failed to reset input buffer: %w", err))
	}
	return dropped, nil
}

// ReadFrame polls the line until a full frame arrives or the deadline passes
func (st *SerialTransport) ReadFrame(ctx context.Context, deadline time.Time) ([]byte, error) {
	st.readMutex.Lock()
	defer st.readMutex.Unlock()

	if frame, ok := st.frames.pop(); ok {
		return frame, nil
	}

	deadline = effectiveDeadline(ctx, deadline)
	buffer := make([]byte, DefaultBufferSize)

	for {
		if ctx.Err() != nil {
			return nil, ctxError("read frame", ctx)
		}

		remaining := serialPollInterval
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, model.Errorf(model.ErrorKindTimeout, "read frame", "no reply within deadline")
			}
			if remaining > serialPollInterval {
				remaining = serialPollInterval
			}
		}

		port, err := st.handle()
		if err != nil {
			return nil, err
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return nil, model.NewError(model.ErrorKindIO, "read frame", fmt.Errorf("failed to set read timeout: %w", err))
		}

		n, err := port.Read(buffer)
		if err != nil {
			st.logger.Error("Serial read failed", zap.Error(err))
			return nil, model.NewError(model.ErrorKindIO, "read frame", fmt.Errorf("failed to read from serial port: %w", err))
		}
		if n == 0 {
			// poll timeout
			continue
		}

		if err := st.frames.push(buffer[:n]); err != nil {
			return nil, model.NewError(model.ErrorKindIO, "read frame", err)
		}
		if frame, ok := st.frames.pop(); ok {
			return frame, nil
		}
	}
}
