// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dnc-service/internal/model"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Device   DeviceConfig   `mapstructure:"device"`
	Events   EventsConfig   `mapstructure:"events"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents the command journal database
type DatabaseConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	DBName        string        `mapstructure:"dbname"`
	SSLMode       string        `mapstructure:"sslmode"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	MaxLifetime   time.Duration `mapstructure:"max_lifetime"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig represents controller connection behaviour
type DeviceConfig struct {
	LivenessInterval time.Duration    `mapstructure:"liveness_interval"`
	DisconnectGrace  time.Duration    `mapstructure:"disconnect_grace"`
	OperationTimeout time.Duration    `mapstructure:"operation_timeout"`
	IOErrorThreshold int              `mapstructure:"io_error_threshold"`
	HistorySize      int              `mapstructure:"history_size"`
	AutoConnect      bool             `mapstructure:"auto_connect"`
	Connection       ConnectionConfig `mapstructure:"connection"`
	DefaultPorts     DevicePortConfig `mapstructure:"default_ports"`
}

// ConnectionConfig is the endpoint used when auto_connect is set
type ConnectionConfig struct {
	Transport  string        `mapstructure:"transport"`
	Vendor     string        `mapstructure:"vendor"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	SerialPort string        `mapstructure:"serial_port"`
	Channel    string        `mapstructure:"channel"`
	VendorID   string        `mapstructure:"vendor_id"`
	ProductID  string        `mapstructure:"product_id"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

// DevicePortConfig represents default port configurations
type DevicePortConfig struct {
	Serial  SerialPortConfig  `mapstructure:"serial"`
	Socket  SocketPortConfig  `mapstructure:"socket"`
	Channel ChannelPortConfig `mapstructure:"channel"`
	USB     USBPortConfig     `mapstructure:"usb"`
}

// SerialPortConfig represents serial line defaults
type SerialPortConfig struct {
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// SocketPortConfig holds the per vendor TCP ports
type SocketPortConfig struct {
	RexrothPort int  `mapstructure:"rexroth_port"`
	FanucPort   int  `mapstructure:"fanuc_port"`
	KeepAlive   bool `mapstructure:"keep_alive"`
}

// ChannelPortConfig represents duplex channel defaults
type ChannelPortConfig struct {
	Dir string `mapstructure:"dir"`
}

// USBPortConfig represents USB defaults
type USBPortConfig struct {
	Endpoint int `mapstructure:"endpoint"`
}

// EventsConfig holds the external event sinks
type EventsConfig struct {
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Valkey ValkeyConfig `mapstructure:"valkey"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
}

// MQTTConfig represents the MQTT sink
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	UseTLS      bool   `mapstructure:"use_tls"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// ValkeyConfig represents the Valkey/Redis sink
type ValkeyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	Database  int    `mapstructure:"database"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig represents the Kafka sink
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	RequiredAcks int           `mapstructure:"required_acks"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./internal/config", "../../internal/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Environment variable support
	v.SetEnvPrefix("DNC_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "dnc_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.retention_days", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Device defaults
	v.SetDefault("device.liveness_interval", "2s")
	v.SetDefault("device.disconnect_grace", "5s")
	v.SetDefault("device.operation_timeout", "5s")
	v.SetDefault("device.io_error_threshold", 3)
	v.SetDefault("device.history_size", 1000)
	v.SetDefault("device.auto_connect", false)
	v.SetDefault("device.connection.transport", "SOCKET")
	v.SetDefault("device.connection.vendor", "REXROTH")
	v.SetDefault("device.connection.host", "127.0.0.1")
	v.SetDefault("device.connection.timeout", "5s")
	v.SetDefault("device.connection.retry_count", 3)

	// Device port defaults
	v.SetDefault("device.default_ports.serial.baud_rate", 9600)
	v.SetDefault("device.default_ports.serial.data_bits", 8)
	v.SetDefault("device.default_ports.serial.stop_bits", 1)
	v.SetDefault("device.default_ports.serial.parity", "none")
	v.SetDefault("device.default_ports.socket.rexroth_port", model.DefaultRexrothPort)
	v.SetDefault("device.default_ports.socket.fanuc_port", model.DefaultFanucPort)
	v.SetDefault("device.default_ports.socket.keep_alive", true)
	v.SetDefault("device.default_ports.channel.dir", "")
	v.SetDefault("device.default_ports.usb.endpoint", 1)

	// Event sink defaults
	v.SetDefault("events.mqtt.enabled", false)
	v.SetDefault("events.mqtt.port", 1883)
	v.SetDefault("events.mqtt.client_id", "dnc-service")
	v.SetDefault("events.mqtt.topic_prefix", "dnc")
	v.SetDefault("events.mqtt.qos", 1)
	v.SetDefault("events.valkey.enabled", false)
	v.SetDefault("events.valkey.address", "localhost:6379")
	v.SetDefault("events.valkey.key_prefix", "dnc")
	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.topic", "dnc.command-results")
	v.SetDefault("events.kafka.required_acks", 1)
	v.SetDefault("events.kafka.batch_timeout", "50ms")

	// App defaults
	v.SetDefault("app.name", "dnc-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required when the journal is enabled")
	}

	if !oneOf(config.App.Environment, "development", "staging", "production", "test") {
		return fmt.Errorf("app.environment must be one of: [development staging production test]")
	}
	if !oneOf(config.Logging.Level, "debug", "info", "warn", "error", "fatal") {
		return fmt.Errorf("logging.level must be one of: [debug info warn error fatal]")
	}

	if config.Device.LivenessInterval <= 0 {
		return fmt.Errorf("device.liveness_interval must be positive")
	}
	if config.Device.OperationTimeout <= 0 {
		return fmt.Errorf("device.operation_timeout must be positive")
	}
	if config.Device.IOErrorThreshold < 1 {
		return fmt.Errorf("device.io_error_threshold must be at least 1")
	}
	if config.Device.HistorySize < 1 {
		return fmt.Errorf("device.history_size must be at least 1")
	}

	if config.Events.MQTT.Enabled && config.Events.MQTT.Broker == "" {
		return fmt.Errorf("events.mqtt.broker is required when mqtt is enabled")
	}
	if config.Events.MQTT.QoS < 0 || config.Events.MQTT.QoS > 2 {
		return fmt.Errorf("events.mqtt.qos must be 0, 1 or 2")
	}
	if config.Events.Valkey.Enabled && config.Events.Valkey.Address == "" {
		return fmt.Errorf("events.valkey.address is required when valkey is enabled")
	}
	if config.Events.Kafka.Enabled && (len(config.Events.Kafka.Brokers) == 0 || config.Events.Kafka.Topic == "") {
		return fmt.Errorf("events.kafka.brokers and events.kafka.topic are required when kafka is enabled")
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ConnectionDefaults builds the auto_connect endpoint from configuration
func (c *Config) ConnectionDefaults() (model.ConnectionParams, error) {
	conn := c.Device.Connection

	transport, err := model.ParseTransportKind(conn.Transport)
	if err != nil {
		return model.ConnectionParams{}, err
	}
	vendor, err := model.ParseVendor(conn.Vendor)
	if err != nil {
		return model.ConnectionParams{}, err
	}

	params := model.ConnectionParams{
		Transport:  transport,
		Vendor:     vendor,
		Serial:     model.SerialParams{Port: conn.SerialPort},
		Socket:     model.SocketParams{Host: conn.Host, Port: conn.Port},
		Channel:    model.ChannelParams{Name: conn.Channel},
		USB:        model.USBParams{VendorID: conn.VendorID, ProductID: conn.ProductID},
		Timeout:    conn.Timeout,
		RetryCount: conn.RetryCount,
	}
	c.Device.ApplyDefaults(&params)
	return params, params.Validate()
}

// ApplyDefaults fills unset line settings and ports from the configured defaults
func (d DeviceConfig) ApplyDefaults(p *model.ConnectionParams) {
	ports := d.DefaultPorts

	switch p.Transport {
	case model.TransportSerial:
		if p.Serial.BaudRate == 0 {
			p.Serial.BaudRate = ports.Serial.BaudRate
		}
		if p.Serial.DataBits == 0 {
			p.Serial.DataBits = ports.Serial.DataBits
		}
		if p.Serial.StopBits == 0 {
			p.Serial.StopBits = ports.Serial.StopBits
		}
		if p.Serial.Parity == "" {
			p.Serial.Parity = ports.Serial.Parity
		}
	case model.TransportSocket:
		if p.Socket.Port == 0 {
			p.Socket.Port = d.vendorPort(p.Vendor)
		}
		if ports.Socket.KeepAlive {
			p.Socket.KeepAlive = true
		}
	case model.TransportChannel:
		if p.Channel.Dir == "" {
			p.Channel.Dir = ports.Channel.Dir
		}
	case model.TransportUSB:
		if p.USB.Endpoint == 0 {
			p.USB.Endpoint = ports.USB.Endpoint
		}
	}

	if p.Timeout == 0 {
		p.Timeout = d.OperationTimeout
	}
}

func (d DeviceConfig) vendorPort(vendor model.Vendor) int {
	switch vendor {
	case model.VendorRexroth:
		if d.DefaultPorts.Socket.RexrothPort > 0 {
			return d.DefaultPorts.Socket.RexrothPort
		}
	case model.VendorFanuc:
		if d.DefaultPorts.Socket.FanucPort > 0 {
			return d.DefaultPorts.Socket.FanucPort
		}
	}
	return vendor.DefaultPort()
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.Events.MQTT.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Events.MQTT.Broker, c.Events.MQTT.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
