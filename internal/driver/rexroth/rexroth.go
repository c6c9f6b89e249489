// internal/driver/rexroth/rexroth.go
package rexroth

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"dnc-service/internal/model"
	"dnc-service/pkg/driver"
)

const (
	errorPrefix = "ERR"
	statusQuery = "STATUS"
	machineType = "Rexroth"
)

// Adapter speaks the newline terminated ASCII grammar of Rexroth-style controllers:
//
//	READ <addr> <len>
//	WRITE <addr> <data>
//	EXECUTE <program> <k=v>...
//	QUERY <type>
//
// Every reply is one line. Lines starting with ERR report a rejected command.
type Adapter struct{}

// NewAdapter creates a Rexroth-style adapter
func NewAdapter() driver.Adapter {
	return &Adapter{}
}

// Vendor returns the controller family
func (a *Adapter) Vendor() model.Vendor {
	return model.VendorRexroth
}

// Encode renders a command as one wire line
func (a *Adapter) Encode(cmd *model.Command) ([]byte, error) {
	var buf bytes.Buffer

	switch p := cmd.Payload.(type) {
	case model.ReadPayload:
		fmt.Fprintf(&buf, "READ %s %d\n", p.Address, p.Length)
	case model.WritePayload:
		fmt.Fprintf(&buf, "WRITE %s %s\n", p.Address, p.Data)
	case model.ExecutePayload:
		buf.WriteString("EXECUTE ")
		buf.WriteString(p.ProgramNumber)
		if len(p.Parameters) > 0 {
			buf.WriteByte(' ')
			buf.WriteString(driver.JoinParameters(p.Parameters, " "))
		}
		buf.WriteByte('\n')
		if p.Program != "" {
			buf.WriteString(strings.TrimRight(strings.ReplaceAll(p.Program, "\r\n", "\n"), "\n"))
			buf.WriteByte('\n')
		}
	case model.QueryPayload:
		fmt.Fprintf(&buf, "QUERY %s\n", p.QueryType)
	default:
		return nil, model.Errorf(model.ErrorKindValidation, "rexroth encode", "unsupported payload %T", cmd.Payload)
	}
	return buf.Bytes(), nil
}

// Decode interprets one reply line
func (a *Adapter) Decode(frame []byte) (*driver.Response, error) {
	line := strings.TrimSpace(string(frame))
	if line == "" {
		return nil, model.Errorf(model.ErrorKindProtocol, "rexroth decode", "empty reply")
	}
	if !isPrintable(line) {
		return nil, model.Errorf(model.ErrorKindProtocol, "rexroth decode", "reply contains non-printable bytes")
	}
	if line == errorPrefix || strings.HasPrefix(line, errorPrefix+" ") {
		msg := strings.TrimSpace(strings.TrimPrefix(line, errorPrefix))
		if msg == "" {
			msg = "command rejected"
		}
		return nil, model.Errorf(model.ErrorKindProtocol, "rexroth decode", "controller error: %s", msg)
	}
	return &driver.Response{Data: line, Raw: line}, nil
}

// StatusQuery is the query type that returns machine status
func (a *Adapter) StatusQuery() string {
	return statusQuery
}

// ParseStatus decodes "key=value;key=value" status replies
func (a *Adapter) ParseStatus(resp *driver.Response) (*model.DeviceStatus, error) {
	if resp == nil {
		return nil, model.Errorf(model.ErrorKindProtocol, "rexroth status", "no response")
	}
	fields := driver.ParsePairs(resp.Raw, ";", "=")
	if len(fields) == 0 {
		return nil, model.Errorf(model.ErrorKindProtocol, "rexroth status", "unrecognized status reply %s", strconv.Quote(resp.Raw))
	}
	status := driver.StatusFromPairs(fields, resp.Raw)
	if status.MachineType == "" {
		status.MachineType = machineType
	}
	return status, nil
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\t' {
			return false
		}
	}
	return true
}
