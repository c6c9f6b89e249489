package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnc-service/internal/driver/fanuc"
	"dnc-service/internal/driver/rexroth"
	"dnc-service/internal/model"
	"dnc-service/pkg/driver"
)

func TestEncodeWrite(t *testing.T) {
	a := Wrap(rexroth.NewAdapter())
	cmd := model.NewWriteCommand("w-1", "#500", "12.5", time.Second)

	frame, err := a.Encode(cmd)
	require.NoError(t, err)
	require.Equal(t, byte('\n'), frame[len(frame)-1])

	var msg struct {
		Command    string                 `json:"command"`
		Parameters map[string]interface{} `json:"parameters"`
		Timestamp  float64                `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, "write", msg.Command)
	assert.Equal(t, "rexroth", msg.Parameters["vendor"])
	assert.Equal(t, "w-1", msg.Parameters["id"])
	assert.Equal(t, "#500", msg.Parameters["address"])
	assert.Equal(t, "12.5", msg.Parameters["data"])
	assert.InDelta(t, float64(cmd.CreatedAt.UnixNano())/1e9, msg.Timestamp, 0.001)
}

func TestEncodeExecuteFormatsParameters(t *testing.T) {
	a := Wrap(fanuc.NewAdapter())
	cmd := model.NewExecuteCommand("e-1", "1000", map[string]interface{}{"feed": 0.5, "on": true}, "N10 G00", time.Second)

	frame, err := a.Encode(cmd)
	require.NoError(t, err)

	var msg struct {
		Parameters struct {
			ProgramNumber string            `json:"program_number"`
			Parameters    map[string]string `json:"parameters"`
			Program       string            `json:"program"`
		} `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, "1000", msg.Parameters.ProgramNumber)
	assert.Equal(t, map[string]string{"feed": "0.5", "on": "1"}, msg.Parameters.Parameters)
	assert.Equal(t, "N10 G00", msg.Parameters.Program)
}

func TestDecode(t *testing.T) {
	a := Wrap(rexroth.NewAdapter())

	resp, err := a.Decode([]byte(`{"success":true,"data":"OK"}`))
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Data)
	assert.Equal(t, "OK", resp.Raw)

	resp, err = a.Decode([]byte(`{"success":true}`))
	require.NoError(t, err)
	assert.Nil(t, resp.Data)

	_, err = a.Decode([]byte(`{"success":false,"error":"busy"}`))
	assert.ErrorIs(t, err, model.ErrProtocol)
	assert.Contains(t, err.Error(), "busy")

	_, err = a.Decode([]byte(`{"success":false,"error":{"code":3,"text":"door open"}}`))
	assert.ErrorIs(t, err, model.ErrProtocol)
	assert.Contains(t, err.Error(), `{"code":3,"text":"door open"}`)

	_, err = a.Decode([]byte(`{"success":false,"error":17}`))
	assert.Contains(t, err.Error(), "peer error: 17")

	_, err = a.Decode([]byte(`{"success":false,"error":null}`))
	assert.Contains(t, err.Error(), "request failed")

	_, err = a.Decode([]byte(`{"success":"yes"}`))
	assert.ErrorIs(t, err, model.ErrProtocol)

	_, err = a.Decode([]byte(`{"data":1}`))
	assert.ErrorIs(t, err, model.ErrProtocol)

	_, err = a.Decode([]byte(`not json`))
	assert.ErrorIs(t, err, model.ErrProtocol)
}

func TestParseStatusStructured(t *testing.T) {
	a := Wrap(fanuc.NewAdapter())
	resp, err := a.Decode([]byte(`{"success":true,"data":{"status":"RUN","line":12,"alarms":["A1","A2"]}}`))
	require.NoError(t, err)

	status, err := a.ParseStatus(resp)
	require.NoError(t, err)
	assert.Equal(t, "RUN", status.Status)
	assert.Equal(t, 12, status.LineNumber)
	assert.Equal(t, []string{"A1", "A2"}, status.Alarms)
}

func TestParseStatusFallsBackToVendor(t *testing.T) {
	a := Wrap(rexroth.NewAdapter())

	status, err := a.ParseStatus(&driver.Response{Data: "status=IDLE", Raw: "status=IDLE"})
	require.NoError(t, err)
	assert.Equal(t, "IDLE", status.Status)
	assert.Equal(t, "Rexroth", status.MachineType)
	assert.Equal(t, "STATUS", a.StatusQuery())
	assert.Equal(t, model.VendorRexroth, a.Vendor())
}
