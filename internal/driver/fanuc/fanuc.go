// internal/driver/fanuc/fanuc.go
package fanuc

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"dnc-service/internal/model"
	"dnc-service/pkg/driver"
)

const (
	endOfBlock  = ";"
	lineEnd     = "\r\n"
	alarmPrefix = "ALM"
	statusQuery = "STAT"
	machineType = "FANUC"
)

// Adapter speaks an ISO block grammar: every block ends with ';' and CR LF.
//
//	RD <addr>,<len>;
//	WR <addr>=<data>;
//	EX O<program>(<k=v>,...);
//	QY <type>;
//
// Program text travels as a '%' delimited tape block ahead of the EX block.
// Replies must end with ';'. ALM <code> <msg>; reports an alarm.
type Adapter struct{}

// NewAdapter creates a Fanuc-style adapter
func NewAdapter() driver.Adapter {
	return &Adapter{}
}

// Vendor returns the controller family
func (a *Adapter) Vendor() model.Vendor {
	return model.VendorFanuc
}

// ProgramName renders a program number as O-number, padding numeric names to four digits
func ProgramName(number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), "O")
	if n, err := strconv.Atoi(number); err == nil && n >= 0 {
		return fmt.Sprintf("O%04d", n)
	}
	return "O" + number
}

// Encode renders a command as ISO blocks
func (a *Adapter) Encode(cmd *model.Command) ([]byte, error) {
	var buf bytes.Buffer

	switch p := cmd.Payload.(type) {
	case model.ReadPayload:
		fmt.Fprintf(&buf, "RD %s,%d;%s", p.Address, p.Length, lineEnd)
	case model.WritePayload:
		fmt.Fprintf(&buf, "WR %s=%s;%s", p.Address, p.Data, lineEnd)
	case model.ExecutePayload:
		if p.Program != "" {
			writeTape(&buf, p.Program)
		}
		buf.WriteString("EX ")
		buf.WriteString(ProgramName(p.ProgramNumber))
		if len(p.Parameters) > 0 {
			buf.WriteByte('(')
			buf.WriteString(driver.JoinParameters(p.Parameters, ","))
			buf.WriteByte(')')
		}
		buf.WriteString(endOfBlock + lineEnd)
	case model.QueryPayload:
		fmt.Fprintf(&buf, "QY %s;%s", p.QueryType, lineEnd)
	default:
		return nil, model.Errorf(model.ErrorKindValidation, "fanuc encode", "unsupported payload %T", cmd.Payload)
	}
	return buf.Bytes(), nil
}

// writeTape wraps program text in '%' markers unless it already carries them
func writeTape(buf *bytes.Buffer, program string) {
	text := strings.TrimSpace(strings.ReplaceAll(program, "\r\n", "\n"))
	if !strings.HasPrefix(text, "%") {
		text = "%\n" + text
	}
	if !strings.HasSuffix(text, "%") {
		text += "\n%"
	}
	buf.WriteString(strings.ReplaceAll(text, "\n", lineEnd))
	buf.WriteString(lineEnd)
}

// Decode interprets one reply block
func (a *Adapter) Decode(frame []byte) (*driver.Response, error) {
	block := strings.TrimSpace(string(frame))
	if block == "" {
		return nil, model.Errorf(model.ErrorKindProtocol, "fanuc decode", "empty reply")
	}
	if !strings.HasSuffix(block, endOfBlock) {
		return nil, model.Errorf(model.ErrorKindProtocol, "fanuc decode", "truncated reply %s", strconv.Quote(block))
	}
	body := strings.TrimSpace(strings.TrimSuffix(block, endOfBlock))
	if strings.HasPrefix(body, alarmPrefix) {
		fields := strings.Fields(strings.TrimPrefix(body, alarmPrefix))
		code, msg := "?", "alarm"
		if len(fields) > 0 {
			code = fields[0]
		}
		if len(fields) > 1 {
			msg = strings.Join(fields[1:], " ")
		}
		return nil, model.Errorf(model.ErrorKindProtocol, "fanuc decode", "alarm %s: %s", code, msg)
	}
	return &driver.Response{Data: body, Raw: body}, nil
}

// StatusQuery is the query type that returns machine status
func (a *Adapter) StatusQuery() string {
	return statusQuery
}

// ParseStatus decodes "key:value,key:value" status replies
func (a *Adapter) ParseStatus(resp *driver.Response) (*model.DeviceStatus, error) {
	if resp == nil {
		return nil, model.Errorf(model.ErrorKindProtocol, "fanuc status", "no response")
	}
	fields := driver.ParsePairs(resp.Raw, ",", ":")
	if len(fields) == 0 {
		return nil, model.Errorf(model.ErrorKindProtocol, "fanuc status", "unrecognized status reply %s", strconv.Quote(resp.Raw))
	}
	status := driver.StatusFromPairs(fields, resp.Raw)
	if status.MachineType == "" {
		status.MachineType = machineType
	}
	return status, nil
}
