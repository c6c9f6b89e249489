// internal/transport/usb.go
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// USBTransport implements Transport over USB bulk endpoints
type USBTransport struct {
	config  model.USBParams
	timeout time.Duration
	logger  *zap.Logger
	mutex   sync.RWMutex
	isOpen  bool

	usbCtx   *gousb.Context
	device   *gousb.Device
	intf     *gousb.Interface
	release  func()
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint

	readMutex sync.Mutex
	frames    *frameBuffer
}

// NewUSBTransport creates a new USB transport
func NewUSBTransport(config model.USBParams, timeout time.Duration, logger *zap.Logger) *USBTransport {
	return &USBTransport{
		config:  config,
		timeout: connectTimeout(timeout),
		logger: logger.With(
			zap.String("transport", "usb"),
			zap.String("vendor_id", config.VendorID),
			zap.String("product_id", config.ProductID),
		),
		frames: newFrameBuffer(MaxFrameSize),
	}
}

func parseUSBID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q: %w", s, err)
	}
	return gousb.ID(id), nil
}

// Open finds the device and claims its default interface
func (ut *USBTransport) Open(ctx context.Context) error {
	ut.mutex.Lock()
	defer ut.mutex.Unlock()

	if ut.isOpen {
		return nil
	}

	vendorID, err := parseUSBID(ut.config.VendorID)
	if err != nil {
		return model.NewError(model.ErrorKindValidation, "open usb", err)
	}
	productID, err := parseUSBID(ut.config.ProductID)
	if err != nil {
		return model.NewError(model.ErrorKindValidation, "open usb", err)
	}

	ut.logger.Info("Opening USB connection", zap.Int("endpoint", ut.config.Endpoint))

	usbCtx := gousb.NewContext()
	device, err := usbCtx.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil || device == nil {
		usbCtx.Close()
		if err == nil {
			err = fmt.Errorf("device %s:%s not found", vendorID, productID)
		}
		return model.NewError(model.ErrorKindConnection, "open usb", err)
	}
	device.SetAutoDetach(true)

	intf, done, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		usbCtx.Close()
		return model.NewError(model.ErrorKindConnection, "open usb", fmt.Errorf("failed to claim interface: %w", err))
	}

	endpoint := ut.config.Endpoint
	if endpoint == 0 {
		endpoint = 1
	}

	outEndpt, err := intf.OutEndpoint(endpoint)
	if err != nil {
		done()
		device.Close()
		usbCtx.Close()
		return model.NewError(model.ErrorKindConnection, "open usb", fmt.Errorf("failed to get out endpoint: %w", err))
	}
	inEndpt, err := intf.InEndpoint(endpoint)
	if err != nil {
		done()
		device.Close()
		usbCtx.Close()
		return model.NewError(model.ErrorKindConnection, "open usb", fmt.Errorf("failed to get in endpoint: %w", err))
	}

	ut.usbCtx = usbCtx
	ut.device = device
	ut.intf = intf
	ut.release = done
	ut.outEndpt = outEndpt
	ut.inEndpt = inEndpt
	ut.isOpen = true
	ut.frames.reset()

	ut.logger.Info("USB connection opened successfully")
	return nil
}

// Close releases the interface, the device and the USB context
func (ut *USBTransport) Close() error {
	ut.mutex.Lock()
	defer ut.mutex.Unlock()

	if !ut.isOpen {
		return nil
	}

	if ut.release != nil {
		ut.release()
	}
	var err error
	if ut.device != nil {
		err = ut.device.Close()
	}
	if ut.usbCtx != nil {
		if cerr := ut.usbCtx.Close(); err == nil {
			err = cerr
		}
	}

	ut.usbCtx, ut.device, ut.intf, ut.release = nil, nil, nil, nil
	ut.outEndpt, ut.inEndpt = nil, nil
	ut.isOpen = false

	if err != nil {
		return model.NewError(model.ErrorKindConnection, "close usb", err)
	}
	ut.logger.Info("USB connection closed")
	return nil
}

// IsAlive reports whether the device is claimed
func (ut *USBTransport) IsAlive() bool {
	ut.mutex.RLock()
	defer ut.mutex.RUnlock()
	return ut.isOpen
}

// Kind returns the transport kind
func (ut *USBTransport) Kind() model.TransportKind {
	return model.TransportUSB
}

// WriteFrame writes one frame to the bulk out endpoint
func (ut *USBTransport) WriteFrame(ctx context.Context, frame []byte) error {
	ut.mutex.RLock()
	out := ut.outEndpt
	ut.mutex.RUnlock()

	if out == nil {
		return model.NewError(model.ErrorKindIO, "write frame", model.ErrNotOpen)
	}

	n, err := out.WriteContext(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return ctxError("write frame", ctx)
		}
		return model.NewError(model.ErrorKindIO, "write frame", fmt.Errorf("failed to write to USB device: %w", err))
	}
	if n != len(frame) {
		return model.Errorf(model.ErrorKindIO, "write frame", "incomplete write: wrote %d of %d bytes", n, len(frame))
	}
	return nil
}

// Discard drops buffered frames and drains the in endpoint until it stays quiet for discardPoll
func (ut *USBTransport) Discard(ctx context.Context) (int, error) {
	ut.readMutex.Lock()
	defer ut.readMutex.Unlock()

	dropped := ut.frames.reset()

	ut.mutex.RLock()
	in := ut.inEndpt
	ut.mutex.RUnlock()
	if in == nil {
		return dropped, model.NewError(model.ErrorKindIO, "discard", model.ErrNotOpen)
	}

	buffer := make([]byte, in.Desc.MaxPacketSize)
	if len(buffer) == 0 {
		buffer = make([]byte, DefaultBufferSize)
	}

	for {
		if ctx.Err() != nil {
			return dropped, ctxError("discard", ctx)
		}
		pollCtx, cancel := context.WithTimeout(ctx, discardPoll)
		n, err := in.ReadContext(pollCtx, buffer)
		quiet := pollCtx.Err() != nil
		cancel()

		dropped += n
		if err != nil {
			if quiet {
				return dropped, nil
			}
			return dropped, model.NewError(model.ErrorKindIO, "discard", fmt.Errorf("failed to read from USB device: %w", err))
		}
		if n == 0 {
			return dropped, nil
		}
	}
}

// ReadFrame reads from the bulk in endpoint until a frame completes
func (ut *USBTransport) ReadFrame(ctx context.Context, deadline time.Time) ([]byte, error) {
	ut.readMutex.Lock()
	defer ut.readMutex.Unlock()

	if frame, ok := ut.frames.pop(); ok {
		return frame, nil
	}

	ut.mutex.RLock()
	in := ut.inEndpt
	ut.mutex.RUnlock()
	if in == nil {
		return nil, model.NewError(model.ErrorKindIO, "read frame", model.ErrNotOpen)
	}

	readCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	buffer := make([]byte, in.Desc.MaxPacketSize)
	if len(buffer) == 0 {
		buffer = make([]byte, DefaultBufferSize)
	}

	for {
		n, err := in.ReadContext(readCtx, buffer)
		if n > 0 {
			if perr := ut.frames.push(buffer[:n]); perr != nil {
				return nil, model.NewError(model.ErrorKindIO, "read frame", perr)
			}
			if frame, ok := ut.frames.pop(); ok {
				return frame, nil
			}
		}
		if err != nil {
			if readCtx.Err() != nil {
				return nil, ctxError("read frame", readCtx)
			}
			return nil, model.NewError(model.ErrorKindIO, "read frame", fmt.Errorf("failed to read from USB device: %w", err))
		}
	}
}
