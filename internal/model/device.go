// internal/model/device.go
package model

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TransportKind represents how the controller is reached
type TransportKind string

const (
	TransportSerial  TransportKind = "SERIAL"
	TransportSocket  TransportKind = "SOCKET"
	TransportChannel TransportKind = "CHANNEL"
	TransportUSB     TransportKind = "USB"
)

// Vendor represents a CNC controller family
type Vendor string

const (
	VendorRexroth    Vendor = "REXROTH"
	VendorFanuc      Vendor = "FANUC"
	VendorSiemens    Vendor = "SIEMENS"
	VendorMitsubishi Vendor = "MITSUBISHI"
)

// ConnectionState represents the supervisor lifecycle state
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateError        ConnectionState = "ERROR"
)

// Default socket ports per vendor
const (
	DefaultRexrothPort = 102
	DefaultFanucPort   = 8193
)

// ParseTransportKind normalizes a transport name
func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SERIAL", "RS232":
		return TransportSerial, nil
	case "SOCKET", "TCP", "ETHERNET":
		return TransportSocket, nil
	case "CHANNEL", "PIPE", "NAMED_PIPE":
		return TransportChannel, nil
	case "USB":
		return TransportUSB, nil
	}
	return "", NewError(ErrorKindValidation, "parse transport", fmt.Errorf("unknown transport %q", s))
}

// ParseVendor normalizes a vendor name
func ParseVendor(s string) (Vendor, error) {
	v := Vendor(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VendorRexroth, VendorFanuc, VendorSiemens, VendorMitsubishi:
		return v, nil
	}
	return "", NewError(ErrorKindValidation, "parse vendor", fmt.Errorf("unknown vendor %q", s))
}

// DefaultPort returns the well-known socket port of a vendor, or 0
func (v Vendor) DefaultPort() int {
	switch v {
	case VendorRexroth:
		return DefaultRexrothPort
	case VendorFanuc:
		return DefaultFanucPort
	}
	return 0
}

// SerialParams holds serial line settings
type SerialParams struct {
	Port     string `json:"port" mapstructure:"port"`
	BaudRate int    `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits int    `json:"data_bits" mapstructure:"data_bits"`
	StopBits int    `json:"stop_bits" mapstructure:"stop_bits"`
	Parity   string `json:"parity" mapstructure:"parity"`
}

// SocketParams holds TCP endpoint settings
type SocketParams struct {
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"`
	KeepAlive bool   `json:"keep_alive" mapstructure:"keep_alive"`
}

// ChannelParams holds duplex channel settings
type ChannelParams struct {
	Name string `json:"name" mapstructure:"name"`
	Dir  string `json:"dir,omitempty" mapstructure:"dir"`
}

// USBParams holds USB bulk endpoint settings
type USBParams struct {
	VendorID  string `json:"vendor_id" mapstructure:"vendor_id"`
	ProductID string `json:"product_id" mapstructure:"product_id"`
	Endpoint  int    `json:"endpoint" mapstructure:"endpoint"`
}

// ConnectionParams describes one controller endpoint
type ConnectionParams struct {
	Transport  TransportKind `json:"transport" mapstructure:"transport"`
	Vendor     Vendor        `json:"vendor" mapstructure:"vendor"`
	Serial     SerialParams  `json:"serial,omitempty" mapstructure:"serial"`
	Socket     SocketParams  `json:"socket,omitempty" mapstructure:"socket"`
	Channel    ChannelParams `json:"channel,omitempty" mapstructure:"channel"`
	USB        USBParams     `json:"usb,omitempty" mapstructure:"usb"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	RetryCount int           `json:"retry_count" mapstructure:"retry_count"`
}

var (
	validBaudRates = map[int]bool{
		1200: true, 2400: true, 4800: true, 9600: true,
		19200: true, 38400: true, 57600: true, 115200: true,
	}
	validParity  = map[string]bool{"none": true, "odd": true, "even": true, "mark": true, "space": true}
	hostnameExpr = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)
	dottedQuad   = regexp.MustCompile(`^[0-9.]+$`)
	usbIDExpr    = regexp.MustCompile(`^(0x)?[0-9A-Fa-f]{1,4}$`)
)

// Address returns a human readable endpoint description
func (p *ConnectionParams) Address() string {
	switch p.Transport {
	case TransportSerial:
		return p.Serial.Port
	case TransportSocket:
		return net.JoinHostPort(p.Socket.Host, strconv.Itoa(p.Socket.Port))
	case TransportChannel:
		return p.Channel.Name
	case TransportUSB:
		return fmt.Sprintf("%s:%s", strings.ToLower(p.USB.VendorID), strings.ToLower(p.USB.ProductID))
	}
	return ""
}

// Key identifies the endpoint for caching; line settings are not part of it
func (p *ConnectionParams) Key() string {
	return fmt.Sprintf("%s|%s|%s", p.Vendor, p.Transport, p.Address())
}

// Validate checks the parameters before any open is attempted
func (p *ConnectionParams) Validate() error {
	if err := p.validate(); err != nil {
		return NewError(ErrorKindValidation, "validate connection params", err)
	}
	return nil
}

func (p *ConnectionParams) validate() error {
	if p.Vendor == "" {
		return fmt.Errorf("vendor is required")
	}
	if _, err := ParseVendor(string(p.Vendor)); err != nil {
		return fmt.Errorf("unknown vendor %q", p.Vendor)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if p.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}

	switch p.Transport {
	case TransportSerial:
		if p.Serial.Port == "" {
			return fmt.Errorf("serial port is required")
		}
		if !validBaudRates[p.Serial.BaudRate] {
			return fmt.Errorf("invalid baud rate: %d", p.Serial.BaudRate)
		}
		if p.Serial.DataBits < 5 || p.Serial.DataBits > 8 {
			return fmt.Errorf("invalid data bits: %d", p.Serial.DataBits)
		}
		if p.Serial.StopBits != 1 && p.Serial.StopBits != 2 {
			return fmt.Errorf("invalid stop bits: %d", p.Serial.StopBits)
		}
		if !validParity[strings.ToLower(p.Serial.Parity)] {
			return fmt.Errorf("invalid parity: %q", p.Serial.Parity)
		}
	case TransportSocket:
		if p.Socket.Host == "" {
			return fmt.Errorf("host is required")
		}
		if !validHost(p.Socket.Host) {
			return fmt.Errorf("malformed host: %q", p.Socket.Host)
		}
		if p.Socket.Port < 1 || p.Socket.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", p.Socket.Port)
		}
	case TransportChannel:
		if strings.TrimSpace(p.Channel.Name) == "" {
			return fmt.Errorf("channel name is required")
		}
	case TransportUSB:
		if !usbIDExpr.MatchString(p.USB.VendorID) {
			return fmt.Errorf("malformed usb vendor id: %q", p.USB.VendorID)
		}
		if !usbIDExpr.MatchString(p.USB.ProductID) {
			return fmt.Errorf("malformed usb product id: %q", p.USB.ProductID)
		}
	case "":
		return fmt.Errorf("transport is required")
	default:
		return fmt.Errorf("unknown transport %q", p.Transport)
	}
	return nil
}

func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	// all-numeric names are malformed addresses such as 192.168.1.300
	if dottedQuad.MatchString(host) {
		return false
	}
	return len(host) <= 253 && hostnameExpr.MatchString(host)
}

// ConnectionStatus is the supervisor's externally visible state
type ConnectionStatus struct {
	State      ConnectionState   `json:"state"`
	Message    string            `json:"message"`
	DeviceInfo map[string]string `json:"device_info,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Clone returns a deep copy safe to hand to subscribers
func (s ConnectionStatus) Clone() ConnectionStatus {
	out := s
	if s.DeviceInfo != nil {
		out.DeviceInfo = make(map[string]string, len(s.DeviceInfo))
		for k, v := range s.DeviceInfo {
			out.DeviceInfo[k] = v
		}
	}
	return out
}

// DeviceStatus is the decoded reply of a controller status query
type DeviceStatus struct {
	MachineType  string    `json:"machine_type"`
	Status       string    `json:"status"`
	Mode         string    `json:"mode"`
	ProgramName  string    `json:"program_name"`
	LineNumber   int       `json:"line_number"`
	FeedRate     float64   `json:"feed_rate"`
	SpindleSpeed float64   `json:"spindle_speed"`
	Alarms       []string  `json:"alarms"`
	Raw          string    `json:"raw,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}
