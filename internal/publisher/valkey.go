// internal/publisher/valkey.go
package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dnc-service/internal/config"
	"dnc-service/internal/model"
)

// ValkeySink keeps the latest status and result under keys and publishes every event on a channel
type ValkeySink struct {
	config *config.ValkeyConfig
	client *redis.Client
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewValkeySink creates a Valkey sink
func NewValkeySink(cfg *config.ValkeyConfig, logger *zap.Logger) *ValkeySink {
	return &ValkeySink{
		config: cfg,
		logger: logger.With(zap.String("component", "valkey-sink")),
	}
}

// Name returns the sink name
func (s *ValkeySink) Name() string {
	return "valkey"
}

// Start connects and pings the server
func (s *ValkeySink) Start(ctx context.Context) error {
	s.mu.RLock()
	if s.client != nil {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	client := redis.NewClient(&redis.Options{
		Addr:         s.config.Address,
		Password:     s.config.Password,
		DB:           s.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.logger.Info("Connected to Valkey", zap.String("address", s.config.Address))
	return nil
}

// Publish stores the event as the latest of its type and publishes it
func (s *ValkeySink) Publish(ctx context.Context, event model.Event) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("valkey client not connected")
	}

	data, err := encodeEvent(event)
	if err != nil {
		return err
	}

	key, channel := ValkeyKeys(s.config.KeyPrefix, event.Type)
	pipe := client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.Publish(ctx, channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("valkey publish to %s failed: %w", channel, err)
	}
	return nil
}

// Close closes the client
func (s *ValkeySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// ValkeyKeys returns the latest-value key and the pub/sub channel for an event type
func ValkeyKeys(prefix string, eventType model.EventType) (key, channel string) {
	suffix := eventSuffix(eventType)
	return joinKey(prefix, suffix, "latest"), joinKey(prefix, "events", suffix)
}

// joinKey joins key segments with colons, skipping empty segments
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}
