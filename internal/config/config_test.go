package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnc-service/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8085", cfg.Server.Port)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 3, cfg.Device.IOErrorThreshold)
	assert.Equal(t, 1000, cfg.Device.HistorySize)
	assert.Equal(t, 2*time.Second, cfg.Device.LivenessInterval)
	assert.Equal(t, model.DefaultFanucPort, cfg.Device.DefaultPorts.Socket.FanucPort)
	assert.Equal(t, "dnc-service", cfg.App.Name)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: "9100"
device:
  io_error_threshold: 5
  liveness_interval: 500ms
events:
  kafka:
    enabled: true
    brokers: ["k1:9092", "k2:9092"]
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Device.IOErrorThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.LivenessInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, "dnc.command-results", cfg.Events.Kafka.Topic)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("DNC_SERVICE_SERVER_PORT", "9200")
	t.Setenv("DNC_SERVICE_LOGGING_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"log level":   "logging:\n  level: verbose\n",
		"environment": "app:\n  environment: moon\n",
		"threshold":   "device:\n  io_error_threshold: 0\n",
		"mqtt broker": "events:\n  mqtt:\n    enabled: true\n",
		"mqtt qos":    "events:\n  mqtt:\n    qos: 3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestConnectionDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	params, err := cfg.ConnectionDefaults()
	require.NoError(t, err)
	assert.Equal(t, model.TransportSocket, params.Transport)
	assert.Equal(t, model.VendorRexroth, params.Vendor)
	assert.Equal(t, model.DefaultRexrothPort, params.Socket.Port)
	assert.True(t, params.Socket.KeepAlive)
	assert.Equal(t, 5*time.Second, params.Timeout)
}

func TestApplyDefaultsSerial(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	params := model.ConnectionParams{
		Transport: model.TransportSerial,
		Vendor:    model.VendorFanuc,
		Serial:    model.SerialParams{Port: "/dev/ttyUSB0", BaudRate: 19200},
	}
	cfg.Device.ApplyDefaults(&params)

	assert.Equal(t, 19200, params.Serial.BaudRate)
	assert.Equal(t, 8, params.Serial.DataBits)
	assert.Equal(t, 1, params.Serial.StopBits)
	assert.Equal(t, "none", params.Serial.Parity)
	assert.Equal(t, cfg.Device.OperationTimeout, params.Timeout)
	assert.NoError(t, params.Validate())
}

func TestGetMQTTBrokerURL(t *testing.T) {
	cfg := &Config{Events: EventsConfig{MQTT: MQTTConfig{Broker: "broker", Port: 8883, UseTLS: true}}}
	assert.Equal(t, "ssl://broker:8883", cfg.GetMQTTBrokerURL())
}
