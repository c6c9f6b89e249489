// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"dnc-service/internal/model"
)

const (
	eventBufferSize      = 1000
	subscriberBufferSize = 100
)

// EventSource is anything that reports connection status changes and command results
type EventSource interface {
	SubscribeStatus(fn func(model.ConnectionStatus)) func()
	SubscribeResults(fn func(model.CommandResult)) func()
}

// EventBus manages event distribution
type EventBus struct {
	subscribers map[model.EventType][]chan model.Event
	wildcard    []chan model.Event
	events      chan model.Event
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.Event),
		events:      make(chan model.Event, eventBufferSize),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes published events until ctx is done
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish publishes an event. It never blocks the caller.
func (eb *EventBus) Publish(event model.Event) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Subscribe subscribes to events of the given types, or to every event when none are given
func (eb *EventBus) Subscribe(eventTypes ...model.EventType) <-chan model.Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.Event, subscriberBufferSize)
	if len(eventTypes) == 0 {
		eb.wildcard = append(eb.wildcard, subscriber)
		return subscriber
	}
	for _, eventType := range eventTypes {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	}
	return subscriber
}

// Unsubscribe removes a subscription returned by Subscribe
func (eb *EventBus) Unsubscribe(subscription <-chan model.Event) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.wildcard = removeSubscriber(eb.wildcard, subscription)
	for eventType, subscribers := range eb.subscribers {
		eb.subscribers[eventType] = removeSubscriber(subscribers, subscription)
	}
}

func removeSubscriber(subscribers []chan model.Event, subscription <-chan model.Event) []chan model.Event {
	out := subscribers[:0]
	for _, subscriber := range subscribers {
		if subscriber != subscription {
			out = append(out, subscriber)
		}
	}
	return out
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.Event) {
	eb.mutex.RLock()
	subscribers := make([]chan model.Event, 0, len(eb.subscribers[event.Type])+len(eb.wildcard))
	subscribers = append(subscribers, eb.subscribers[event.Type]...)
	subscribers = append(subscribers, eb.wildcard...)
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
			eb.logger.Debug("Subscriber full, event skipped",
				zap.String("event_type", string(event.Type)),
			)
		}
	}
}

// Attach republishes the status changes and command results of source on the bus.
// The returned func detaches it.
func (eb *EventBus) Attach(name string, source EventSource) func() {
	stopStatus := source.SubscribeStatus(func(status model.ConnectionStatus) {
		eb.Publish(model.NewStatusEvent(name, status))
	})
	stopResults := source.SubscribeResults(func(result model.CommandResult) {
		eb.Publish(model.NewResultEvent(name, result))
	})

	return func() {
		stopStatus()
		stopResults()
	}
}
