// pkg/driver/interfaces.go
package driver

import (
	"dnc-service/internal/model"
)

// Adapter translates commands to and from the wire format of one controller family.
// Encode must depend on the command alone. Decode must return a protocol error,
// never panic, on truncated or malformed frames.
type Adapter interface {
	// Vendor identifies the controller family
	Vendor() model.Vendor

	// Encoding
	Encode(cmd *model.Command) ([]byte, error)
	Decode(frame []byte) (*Response, error)

	// Device status
	StatusQuery() string
	ParseStatus(resp *Response) (*model.DeviceStatus, error)
}

// Response is a decoded controller reply
type Response struct {
	Data interface{} `json:"data"`
	Raw  string      `json:"raw"`
}
