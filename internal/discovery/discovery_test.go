// internal/discovery/discovery_test.go
package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

type stubScanner struct {
	kind      model.TransportKind
	available bool
	found     []*Endpoint
	err       error
	calls     int
}

func (s *stubScanner) Type() model.TransportKind { return s.kind }
func (s *stubScanner) Available() bool           { return s.available }
func (s *stubScanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	s.calls++
	return s.found, s.err
}

func TestManagerScanAll(t *testing.T) {
	m := NewManager(zap.NewNop())
	serial := &stubScanner{kind: model.TransportSerial, available: true, found: []*Endpoint{{Name: "/dev/ttyS0"}}}
	usb := &stubScanner{kind: model.TransportUSB, available: true, err: errors.New("libusb missing")}
	channel := &stubScanner{kind: model.TransportChannel, available: false, found: []*Endpoint{{Name: "never"}}}
	m.Register(serial)
	m.Register(usb)
	m.Register(channel)

	found := m.ScanAll(context.Background())

	require.Len(t, found, 1)
	assert.Equal(t, "/dev/ttyS0", found[0].Name)
	assert.Equal(t, 1, usb.calls)
	assert.Zero(t, channel.calls)
	assert.Equal(t, []model.TransportKind{model.TransportSerial, model.TransportUSB}, m.Available())
}

func TestManagerScanByType(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(&stubScanner{kind: model.TransportUSB, available: false})

	_, err := m.ScanByType(context.Background(), model.TransportSerial)
	assert.Equal(t, model.ErrorKindValidation, model.KindOf(err))

	_, err = m.ScanByType(context.Background(), model.TransportUSB)
	assert.Equal(t, model.ErrorKindConnection, model.KindOf(err))
}

func TestSerialScannerFillsParams(t *testing.T) {
	orig := listSerialDetails
	defer func() { listSerialDetails = orig }()
	listSerialDetails = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI", Product: "FT232R "},
			{Name: ""},
		}, nil
	}

	defaults := model.SerialParams{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}
	s := NewSerialScanner(defaults, model.VendorFanuc, zap.NewNop())

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, "/dev/ttyS0", found[0].Params.Serial.Port)
	assert.Equal(t, 9600, found[0].Params.Serial.BaudRate)
	assert.Equal(t, model.VendorFanuc, found[0].Params.Vendor)
	assert.Nil(t, found[0].Details)

	usbPort := found[1]
	assert.Equal(t, "FT232R", usbPort.Description)
	assert.Equal(t, "A50285BI", usbPort.SerialNumber)
	assert.Equal(t, "0x0403", usbPort.Details["vendor_id"])
	assert.Equal(t, "even", usbPort.Params.Serial.Parity)
}

func TestSerialScannerErrors(t *testing.T) {
	orig := listSerialDetails
	defer func() { listSerialDetails = orig }()
	listSerialDetails = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no sysfs")
	}

	s := NewSerialScanner(model.SerialParams{}, "", zap.NewNop())
	_, err := s.Scan(context.Background())
	assert.Equal(t, model.ErrorKindIO, model.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scan(ctx)
	assert.Equal(t, model.ErrorKindCancelled, model.KindOf(err))
}

func TestUSBScannerSkipsHubs(t *testing.T) {
	orig := listUSBDescriptors
	defer func() { listUSBDescriptors = orig }()
	listUSBDescriptors = func() ([]usbDescriptor, error) {
		return []usbDescriptor{
			{Bus: 1, Address: 1, Vendor: 0x1d6b, Product: 0x0002, Class: gousb.ClassHub},
			{Bus: 1, Address: 4, Vendor: 0x04b8, Product: 0x0202, Class: gousb.ClassVendorSpec, Endpoint: 2},
		}, nil
	}

	s := NewUSBScanner(model.VendorRexroth, zap.NewNop())
	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	endpoint := found[0]
	assert.Equal(t, "usb:001:004", endpoint.Name)
	assert.Equal(t, "0x04b8", endpoint.Params.USB.VendorID)
	assert.Equal(t, "0x0202", endpoint.Params.USB.ProductID)
	assert.Equal(t, 2, endpoint.Params.USB.Endpoint)
	assert.Equal(t, model.TransportUSB, endpoint.Params.Transport)

	// Reported ids must pass connection validation
	endpoint.Params.Vendor = model.VendorRexroth
	assert.NoError(t, endpoint.Params.Validate())
}
