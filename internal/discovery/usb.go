// internal/discovery/usb.go
package discovery

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// USB device classes that never carry a controller link
var skippedUSBClasses = map[gousb.Class]bool{
	gousb.ClassAudio:    true,
	gousb.ClassHID:      true,
	gousb.ClassHub:      true,
	gousb.ClassVideo:    true,
	gousb.ClassWireless: true,
}

// usbDescriptor is the part of a device descriptor the scanner reports
type usbDescriptor struct {
	Bus      int
	Address  int
	Vendor   gousb.ID
	Product  gousb.ID
	Class    gousb.Class
	Speed    gousb.Speed
	Endpoint int
}

// listUSBDescriptors is replaced in tests
var listUSBDescriptors = func() ([]usbDescriptor, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	var found []usbDescriptor
	// The opener only inspects descriptors; returning false leaves every device closed
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		found = append(found, usbDescriptor{
			Bus:      desc.Bus,
			Address:  desc.Address,
			Vendor:   desc.Vendor,
			Product:  desc.Product,
			Class:    desc.Class,
			Speed:    desc.Speed,
			Endpoint: firstBulkEndpoint(desc),
		})
		return false
	})
	return found, err
}

// firstBulkEndpoint returns the lowest bulk endpoint number of the first configuration, or 0
func firstBulkEndpoint(desc *gousb.DeviceDesc) int {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				best := 0
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if best == 0 || ep.Number < best {
						best = ep.Number
					}
				}
				if best != 0 {
					return best
				}
			}
		}
	}
	return 0
}

// USBScanner lists USB devices that could expose a bulk controller link
type USBScanner struct {
	vendor model.Vendor
	logger *zap.Logger
}

// NewUSBScanner creates a USB scanner; vendor may be empty
func NewUSBScanner(vendor model.Vendor, logger *zap.Logger) *USBScanner {
	return &USBScanner{
		vendor: vendor,
		logger: logger.With(zap.String("scanner", "usb")),
	}
}

// Type returns the scanned transport
func (s *USBScanner) Type() model.TransportKind {
	return model.TransportUSB
}

// Available reports whether libusb enumeration is supported here
func (s *USBScanner) Available() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return true
	default:
		return false
	}
}

// Scan enumerates attached USB devices, skipping hubs and human interface classes
func (s *USBScanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewError(model.ErrorKindCancelled, "scan usb", err)
	}

	descriptors, err := listUSBDescriptors()
	if err != nil {
		return nil, model.NewError(model.ErrorKindIO, "scan usb", fmt.Errorf("failed to enumerate usb devices: %w", err))
	}

	endpoints := make([]*Endpoint, 0, len(descriptors))
	for _, desc := range descriptors {
		if skippedUSBClasses[desc.Class] {
			continue
		}

		vendorID := fmt.Sprintf("0x%04x", uint16(desc.Vendor))
		productID := fmt.Sprintf("0x%04x", uint16(desc.Product))

		endpoints = append(endpoints, &Endpoint{
			Transport:   model.TransportUSB,
			Name:        fmt.Sprintf("usb:%03d:%03d", desc.Bus, desc.Address),
			Description: fmt.Sprintf("%s:%s", vendorID, productID),
			Details: map[string]interface{}{
				"bus":     desc.Bus,
				"address": desc.Address,
				"class":   desc.Class.String(),
				"speed":   desc.Speed.String(),
			},
			Params: model.ConnectionParams{
				Transport: model.TransportUSB,
				Vendor:    s.vendor,
				USB: model.USBParams{
					VendorID:  vendorID,
					ProductID: productID,
					Endpoint:  desc.Endpoint,
				},
			},
		})
	}

	s.logger.Debug("USB scan completed",
		zap.Int("devices_seen", len(descriptors)),
		zap.Int("endpoints_found", len(endpoints)),
	)
	return endpoints, nil
}
