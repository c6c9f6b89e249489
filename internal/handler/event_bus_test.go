// internal/handler/event_bus_test.go
package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

func receive(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return model.Event{}
	}
}

func startBus(t *testing.T) *EventBus {
	t.Helper()
	bus := NewEventBus(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Start(ctx)
	return bus
}

func TestEventBusRoutesByType(t *testing.T) {
	bus := startBus(t)
	statuses := bus.Subscribe(model.EventConnectionStatus)
	all := bus.Subscribe()

	bus.Publish(model.NewResultEvent("test", model.CommandResult{ID: "r-1"}))
	bus.Publish(model.NewStatusEvent("test", model.ConnectionStatus{State: model.StateConnected}))

	assert.Equal(t, model.EventConnectionStatus, receive(t, statuses).Type)
	assert.Equal(t, model.EventCommandResult, receive(t, all).Type)
	assert.Equal(t, model.EventConnectionStatus, receive(t, all).Type)

	select {
	case event := <-statuses:
		t.Fatalf("unexpected event %s", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := startBus(t)
	sub := bus.Subscribe(model.EventCommandResult)
	bus.Unsubscribe(sub)

	bus.Publish(model.NewResultEvent("test", model.CommandResult{ID: "r-1"}))

	select {
	case <-sub:
		t.Fatal("unsubscribed channel received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBufferSize+10; i++ {
			bus.Publish(model.Event{Type: model.EventCommandResult})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full bus")
	}
}

type fakeSource struct {
	mu       sync.Mutex
	statusFn func(model.ConnectionStatus)
	resultFn func(model.CommandResult)
}

func (f *fakeSource) SubscribeStatus(fn func(model.ConnectionStatus)) func() {
	f.mu.Lock()
	f.statusFn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.statusFn = nil
		f.mu.Unlock()
	}
}

func (f *fakeSource) SubscribeResults(fn func(model.CommandResult)) func() {
	f.mu.Lock()
	f.resultFn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.resultFn = nil
		f.mu.Unlock()
	}
}

func TestEventBusAttach(t *testing.T) {
	bus := startBus(t)
	events := bus.Subscribe()
	source := &fakeSource{}

	detach := bus.Attach("dnc-service", source)
	source.statusFn(model.ConnectionStatus{State: model.StateConnecting})
	source.resultFn(model.CommandResult{ID: "w-1", Success: true})

	status := receive(t, events)
	assert.Equal(t, model.EventConnectionStatus, status.Type)
	assert.Equal(t, "dnc-service", status.Source)
	result := receive(t, events)
	assert.Equal(t, "w-1", result.Data.(model.CommandResult).ID)

	detach()
	assert.Nil(t, source.statusFn)
	assert.Nil(t, source.resultFn)
}

type staticStatus struct{}

func (staticStatus) Status() model.ConnectionStatus {
	return model.ConnectionStatus{State: model.StateConnected, Message: "connected"}
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := startBus(t)
	ws := NewWebSocketHandler(bus, staticStatus{}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.Run(ctx)

	router := gin.New()
	ws.RegisterRoutes(router.Group("/ws"))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events?type=command.result"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readMessage(t, conn)
	assert.Equal(t, string(model.EventConnectionStatus), initial.Type)

	require.Eventually(t, func() bool {
		return ws.GetConnectionStats().TotalConnections == 1
	}, time.Second, 10*time.Millisecond)

	// Filtered out by the type query
	bus.Publish(model.NewStatusEvent("test", model.ConnectionStatus{State: model.StateError}))
	bus.Publish(model.NewResultEvent("test", model.CommandResult{ID: "w-9", Success: true}))

	msg := readMessage(t, conn)
	assert.Equal(t, string(model.EventCommandResult), msg.Type)
	assert.Equal(t, "test", msg.Source)
	assert.Equal(t, "w-9", msg.Data.(map[string]interface{})["id"])

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping", RequestID: "p-1"}))
	pong := readMessage(t, conn)
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, "p-1", pong.RequestID)
}

func TestOriginChecker(t *testing.T) {
	allowAll := originChecker(nil)
	restricted := originChecker([]string{"http://hmi.local"})

	req := httptest.NewRequest("GET", "/ws/events", nil)
	req.Header.Set("Origin", "http://evil.example")
	assert.True(t, allowAll(req))
	assert.False(t, restricted(req))

	req.Header.Set("Origin", "http://hmi.local")
	assert.True(t, restricted(req))
}
