// internal/publisher/mqtt.go
package publisher

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"dnc-service/internal/config"
	"dnc-service/internal/model"
)

const mqttConnectTimeout = 5 * time.Second

// MQTTSink publishes events to <prefix>/status and <prefix>/results
type MQTTSink struct {
	config    *config.MQTTConfig
	brokerURL string
	client    pahomqtt.Client
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewMQTTSink creates an MQTT sink. brokerURL is tcp://host:port or ssl://host:port.
func NewMQTTSink(cfg *config.MQTTConfig, brokerURL string, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		config:    cfg,
		brokerURL: brokerURL,
		logger:    logger.With(zap.String("component", "mqtt-sink")),
	}
}

// Name returns the sink name
func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Start connects to the broker
func (s *MQTTSink) Start(ctx context.Context) error {
	s.mu.RLock()
	if s.client != nil {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.brokerURL)
	if s.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(s.config.ClientID)
	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
		opts.SetPassword(s.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !waitToken(ctx, token, mqttConnectTimeout) {
		client.Disconnect(100)
		return fmt.Errorf("mqtt connect to %s timed out", s.brokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s failed: %w", s.brokerURL, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.logger.Info("Connected to MQTT broker", zap.String("broker", s.brokerURL))
	return nil
}

// Publish sends the event. Status events are retained so late subscribers see the current state.
func (s *MQTTSink) Publish(ctx context.Context, event model.Event) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil || !client.IsConnectionOpen() {
		return fmt.Errorf("mqtt client not connected")
	}

	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}

	topic := MQTTTopic(s.config.TopicPrefix, event.Type)
	retained := event.Type == model.EventConnectionStatus
	token := client.Publish(topic, byte(s.config.QoS), retained, payload)
	if !waitToken(ctx, token, DefaultPublishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s failed: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

// MQTTTopic builds the topic for an event type
func MQTTTopic(prefix string, eventType model.EventType) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return eventSuffix(eventType)
	}
	return prefix + "/" + eventSuffix(eventType)
}

func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) bool {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return false
	}
	return token.WaitTimeout(timeout)
}
