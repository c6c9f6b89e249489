// internal/discovery/serial.go
package discovery

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// listSerialDetails is replaced in tests
var listSerialDetails = enumerator.GetDetailedPortsList

// SerialScanner lists serial ports, including USB serial adapters
type SerialScanner struct {
	defaults model.SerialParams
	vendor   model.Vendor
	logger   *zap.Logger
}

// NewSerialScanner creates a serial scanner. defaults fill the line settings
// of every endpoint it reports; vendor may be empty.
func NewSerialScanner(defaults model.SerialParams, vendor model.Vendor, logger *zap.Logger) *SerialScanner {
	return &SerialScanner{
		defaults: defaults,
		vendor:   vendor,
		logger:   logger.With(zap.String("scanner", "serial")),
	}
}

// Type returns the scanned transport
func (s *SerialScanner) Type() model.TransportKind {
	return model.TransportSerial
}

// Available reports whether serial enumeration works on this host
func (s *SerialScanner) Available() bool {
	return true
}

// Scan enumerates the serial ports present on this host
func (s *SerialScanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewError(model.ErrorKindCancelled, "scan serial", err)
	}

	ports, err := listSerialDetails()
	if err != nil {
		return nil, model.NewError(model.ErrorKindIO, "scan serial", fmt.Errorf("failed to get serial ports: %w", err))
	}

	endpoints := make([]*Endpoint, 0, len(ports))
	for _, port := range ports {
		if port == nil || port.Name == "" {
			continue
		}

		params := model.ConnectionParams{
			Transport: model.TransportSerial,
			Vendor:    s.vendor,
			Serial:    s.defaults,
		}
		params.Serial.Port = port.Name

		endpoint := &Endpoint{
			Transport:    model.TransportSerial,
			Name:         port.Name,
			Description:  strings.TrimSpace(port.Product),
			SerialNumber: port.SerialNumber,
			Params:       params,
		}
		if port.IsUSB {
			endpoint.Details = map[string]interface{}{
				"usb":        true,
				"vendor_id":  "0x" + strings.ToLower(port.VID),
				"product_id": "0x" + strings.ToLower(port.PID),
			}
		}
		endpoints = append(endpoints, endpoint)
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(endpoints)))
	return endpoints, nil
}
