package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketParams(host string, port int) ConnectionParams {
	return ConnectionParams{
		Transport: TransportSocket,
		Vendor:    VendorRexroth,
		Socket:    SocketParams{Host: host, Port: port},
		Timeout:   time.Second,
	}
}

func TestConnectionParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  ConnectionParams
		wantErr bool
	}{
		{"valid ip", socketParams("192.168.1.10", 102), false},
		{"valid hostname", socketParams("cnc-01.plant.local", 8193), false},
		{"missing host", socketParams("", 102), true},
		{"port zero", socketParams("10.0.0.1", 0), true},
		{"port too large", socketParams("10.0.0.1", 65536), true},
		{"malformed ip", socketParams("192.168.1.300", 102), true},
		{"bad characters", socketParams("cnc_01!", 102), true},
		{
			name: "valid serial",
			params: ConnectionParams{
				Transport: TransportSerial, Vendor: VendorFanuc,
				Serial: SerialParams{Port: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none"},
			},
		},
		{
			name: "bad baud",
			params: ConnectionParams{
				Transport: TransportSerial, Vendor: VendorFanuc,
				Serial: SerialParams{Port: "/dev/ttyUSB0", BaudRate: 1234, DataBits: 8, StopBits: 1, Parity: "none"},
			},
			wantErr: true,
		},
		{
			name: "bad parity",
			params: ConnectionParams{
				Transport: TransportSerial, Vendor: VendorFanuc,
				Serial: SerialParams{Port: "COM3", BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "sideways"},
			},
			wantErr: true,
		},
		{
			name:    "missing channel name",
			params:  ConnectionParams{Transport: TransportChannel, Vendor: VendorRexroth},
			wantErr: true,
		},
		{
			name:   "valid channel",
			params: ConnectionParams{Transport: TransportChannel, Vendor: VendorRexroth, Channel: ChannelParams{Name: "DNC_Pipe"}},
		},
		{
			name:    "bad usb id",
			params:  ConnectionParams{Transport: TransportUSB, Vendor: VendorFanuc, USB: USBParams{VendorID: "xyz", ProductID: "0001"}},
			wantErr: true,
		},
		{
			name:    "missing vendor",
			params:  ConnectionParams{Transport: TransportSocket, Socket: SocketParams{Host: "10.0.0.1", Port: 102}},
			wantErr: true,
		},
		{
			name:    "missing transport",
			params:  ConnectionParams{Vendor: VendorFanuc},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConnectionParamsKey(t *testing.T) {
	a := socketParams("10.0.0.1", 102)
	b := socketParams("10.0.0.1", 102)
	b.Timeout = 5 * time.Second
	c := socketParams("10.0.0.2", 102)

	assert.Equal(t, a.Key(), b.Key(), "timeout is not part of the endpoint identity")
	assert.NotEqual(t, a.Key(), c.Key())

	d := a
	d.Vendor = VendorFanuc
	assert.NotEqual(t, a.Key(), d.Key())
}

func TestParseNames(t *testing.T) {
	v, err := ParseVendor("fanuc")
	require.NoError(t, err)
	assert.Equal(t, VendorFanuc, v)
	assert.Equal(t, 8193, v.DefaultPort())
	assert.Equal(t, 102, VendorRexroth.DefaultPort())

	_, err = ParseVendor("heidenhain")
	assert.ErrorIs(t, err, ErrValidation)

	k, err := ParseTransportKind("tcp")
	require.NoError(t, err)
	assert.Equal(t, TransportSocket, k)
}

func TestConnectionStatusClone(t *testing.T) {
	s := ConnectionStatus{State: StateConnected, DeviceInfo: map[string]string{"vendor": "FANUC"}}
	c := s.Clone()
	c.DeviceInfo["vendor"] = "changed"
	assert.Equal(t, "FANUC", s.DeviceInfo["vendor"])
}
