// internal/driver/envelope/envelope.go
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"dnc-service/internal/model"
	"dnc-service/internal/transport"
	"dnc-service/pkg/driver"
)

// Adapter carries commands as structured messages over a duplex channel.
// The wrapped vendor adapter supplies the status vocabulary.
type Adapter struct {
	inner driver.Adapter
}

// Wrap returns an envelope around a vendor adapter
func Wrap(inner driver.Adapter) driver.Adapter {
	return &Adapter{inner: inner}
}

// Inner returns the wrapped vendor adapter
func (a *Adapter) Inner() driver.Adapter {
	return a.inner
}

// Vendor returns the wrapped controller family
func (a *Adapter) Vendor() model.Vendor {
	return a.inner.Vendor()
}

// Encode renders {command, parameters, timestamp} followed by a newline
func (a *Adapter) Encode(cmd *model.Command) ([]byte, error) {
	params := map[string]interface{}{
		"vendor": strings.ToLower(string(a.inner.Vendor())),
		"id":     cmd.ID,
	}

	switch p := cmd.Payload.(type) {
	case model.ReadPayload:
		params["address"] = p.Address
		params["length"] = p.Length
	case model.WritePayload:
		params["address"] = p.Address
		params["data"] = p.Data
	case model.ExecutePayload:
		values := make(map[string]string, len(p.Parameters))
		for k, v := range p.Parameters {
			values[k] = driver.FormatValue(v)
		}
		params["program_number"] = p.ProgramNumber
		params["parameters"] = values
		if p.Program != "" {
			params["program"] = p.Program
		}
	case model.QueryPayload:
		params["query_type"] = p.QueryType
	default:
		return nil, model.Errorf(model.ErrorKindValidation, "envelope encode", "unsupported payload %T", cmd.Payload)
	}

	data, err := json.Marshal(transport.ChannelMessage{
		Command:    strings.ToLower(string(cmd.Kind)),
		Parameters: params,
		Timestamp:  transport.UnixTimestamp(cmd.CreatedAt),
	})
	if err != nil {
		return nil, model.NewError(model.ErrorKindValidation, "envelope encode", err)
	}
	return append(data, '\n'), nil
}

// Decode requires a JSON object with a boolean success field
func (a *Adapter) Decode(frame []byte) (*driver.Response, error) {
	const op = "envelope decode"

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, model.NewError(model.ErrorKindProtocol, op, fmt.Errorf("malformed message: %w", err))
	}

	rawSuccess, ok := fields["success"]
	if !ok {
		return nil, model.Errorf(model.ErrorKindProtocol, op, "reply has no success field")
	}
	var success bool
	if err := json.Unmarshal(rawSuccess, &success); err != nil {
		return nil, model.Errorf(model.ErrorKindProtocol, op, "success is not a boolean")
	}

	if !success {
		var msg string
		if raw, ok := fields["error"]; ok {
			if err := json.Unmarshal(raw, &msg); err != nil {
				// non-string errors are reported as sent
				msg = string(bytes.TrimSpace(raw))
			}
		}
		if msg == "" {
			msg = "request failed"
		}
		return nil, model.Errorf(model.ErrorKindProtocol, op, "peer error: %s", msg)
	}

	resp := &driver.Response{}
	if raw, ok := fields["data"]; ok {
		var data interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, model.NewError(model.ErrorKindProtocol, op, fmt.Errorf("malformed data: %w", err))
		}
		resp.Data = data
		if s, ok := data.(string); ok {
			resp.Raw = s
		} else {
			resp.Raw = string(raw)
		}
	}
	return resp, nil
}

// StatusQuery delegates to the vendor vocabulary
func (a *Adapter) StatusQuery() string {
	return a.inner.StatusQuery()
}

// ParseStatus accepts a structured status object or falls back to the vendor text format
func (a *Adapter) ParseStatus(resp *driver.Response) (*model.DeviceStatus, error) {
	if resp != nil {
		if obj, ok := resp.Data.(map[string]interface{}); ok {
			fields := make(map[string]string, len(obj))
			for k, v := range obj {
				if list, ok := v.([]interface{}); ok {
					items := make([]string, 0, len(list))
					for _, item := range list {
						items = append(items, fmt.Sprint(item))
					}
					fields[strings.ToLower(k)] = strings.Join(items, "|")
					continue
				}
				fields[strings.ToLower(k)] = driver.FormatValue(v)
			}
			return driver.StatusFromPairs(fields, resp.Raw), nil
		}
	}
	return a.inner.ParseStatus(resp)
}
