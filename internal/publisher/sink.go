// internal/publisher/sink.go
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

// DefaultPublishTimeout bounds one delivery to an external sink
const DefaultPublishTimeout = 5 * time.Second

// Sink delivers core events to an external system
type Sink interface {
	Name() string
	Start(ctx context.Context) error
	Publish(ctx context.Context, event model.Event) error
	Close() error
}

// Run delivers events to sink until ctx is done or events is closed.
// A failed or panicking delivery is logged and the loop continues.
func Run(ctx context.Context, sink Sink, events <-chan model.Event, timeout time.Duration, logger *zap.Logger) {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	logger = logger.With(zap.String("component", "publisher"), zap.String("sink", sink.Name()))

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := deliver(ctx, sink, event, timeout); err != nil {
				logger.Warn("Failed to publish event",
					zap.String("event_type", string(event.Type)),
					zap.Error(err),
				)
			}
		}
	}
}

func deliver(ctx context.Context, sink Sink, event model.Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = sink.Publish(ctx, event) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("sink panicked: %v", r.Value)
	}
	return err
}

// encodeEvent returns the JSON wire form shared by all sinks
func encodeEvent(event model.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	return data, nil
}

// eventSuffix maps an event type to its topic or key segment
func eventSuffix(eventType model.EventType) string {
	switch eventType {
	case model.EventConnectionStatus:
		return "status"
	case model.EventCommandResult:
		return "results"
	}
	return strings.ReplaceAll(string(eventType), ".", "/")
}
