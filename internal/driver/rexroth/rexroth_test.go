package rexroth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnc-service/internal/model"
	"dnc-service/pkg/driver"
)

func TestEncode(t *testing.T) {
	a := NewAdapter()

	cases := []struct {
		name string
		cmd  *model.Command
		want string
	}{
		{"read", model.NewReadCommand("r", "#100", 4, time.Second), "READ #100 4\n"},
		{"write", model.NewWriteCommand("w", "#500", "12.5", time.Second), "WRITE #500 12.5\n"},
		{"query", model.NewQueryCommand("q", "POSITION", time.Second), "QUERY POSITION\n"},
		{
			"execute",
			model.NewExecuteCommand("e", "1000", map[string]interface{}{"speed": 1200, "feed": 0.25}, "", time.Second),
			"EXECUTE 1000 feed=0.25 speed=1200\n",
		},
		{"execute without parameters", model.NewExecuteCommand("e", "7", nil, "", time.Second), "EXECUTE 7\n"},
		{
			"execute with program",
			model.NewExecuteCommand("e", "7", nil, "%\r\nN10 G00\r\n%\r\n", time.Second),
			"EXECUTE 7\n%\nN10 G00\n%\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := a.Encode(tc.cmd)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(frame))
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := NewAdapter()
	cmd := model.NewExecuteCommand("e", "1000", map[string]interface{}{"b": 2, "a": 1, "c": 3}, "", time.Second)

	first, err := a.Encode(cmd)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := a.Encode(cmd)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEncodeRejectsUnknownPayload(t *testing.T) {
	_, err := NewAdapter().Encode(&model.Command{ID: "x", Kind: model.CommandRead, Payload: 42})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDecode(t *testing.T) {
	a := NewAdapter()

	resp, err := a.Decode([]byte("OK"))
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Data)

	_, err = a.Decode([]byte("ERR address out of range"))
	assert.ErrorIs(t, err, model.ErrProtocol)
	assert.Contains(t, err.Error(), "address out of range")

	_, err = a.Decode([]byte("  "))
	assert.ErrorIs(t, err, model.ErrProtocol)

	_, err = a.Decode([]byte{'O', 0x01, 'K'})
	assert.ErrorIs(t, err, model.ErrProtocol)

	resp, err = a.Decode([]byte("ERRATA 3"))
	require.NoError(t, err)
	assert.Equal(t, "ERRATA 3", resp.Raw)
}

func TestParseStatus(t *testing.T) {
	a := NewAdapter()
	resp, err := a.Decode([]byte("status=RUN;mode=AUTO;program=O1000;line=12;feed=200;spindle=3000;alarms="))
	require.NoError(t, err)

	status, err := a.ParseStatus(resp)
	require.NoError(t, err)
	assert.Equal(t, "Rexroth", status.MachineType)
	assert.Equal(t, "RUN", status.Status)
	assert.Equal(t, 12, status.LineNumber)
	assert.Equal(t, 3000.0, status.SpindleSpeed)
	assert.Empty(t, status.Alarms)

	_, err = a.ParseStatus(&driver.Response{Raw: "garbage"})
	assert.ErrorIs(t, err, model.ErrProtocol)
	assert.Equal(t, "STATUS", a.StatusQuery())
}
