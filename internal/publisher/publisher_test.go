// internal/publisher/publisher_test.go
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dnc-service/internal/model"
	"dnc-service/internal/repository"
)

func sampleResult() model.CommandResult {
	return model.CommandResult{
		ID:          "write-1",
		Kind:        model.CommandWrite,
		Success:     true,
		Data:        "OK",
		Latency:     50 * time.Millisecond,
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sampleStatus() model.ConnectionStatus {
	return model.ConnectionStatus{
		State:     model.StateConnected,
		Message:   "connected",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMQTTTopic(t *testing.T) {
	assert.Equal(t, "dnc/status", MQTTTopic("dnc", model.EventConnectionStatus))
	assert.Equal(t, "dnc/results", MQTTTopic("dnc/", model.EventCommandResult))
	assert.Equal(t, "results", MQTTTopic("", model.EventCommandResult))
	assert.Equal(t, "plant/cell1/other/event", MQTTTopic("/plant/cell1", model.EventType("other.event")))
}

func TestValkeyKeys(t *testing.T) {
	key, channel := ValkeyKeys("dnc", model.EventConnectionStatus)
	assert.Equal(t, "dnc:status:latest", key)
	assert.Equal(t, "dnc:events:status", channel)

	key, channel = ValkeyKeys(":dnc:", model.EventCommandResult)
	assert.Equal(t, "dnc:results:latest", key)
	assert.Equal(t, "dnc:events:results", channel)
}

func TestResultMessage(t *testing.T) {
	event := model.NewResultEvent("dnc-service", sampleResult())

	msg, ok, err := resultMessage(event)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "write-1", string(msg.Key))
	assert.Equal(t, event.Timestamp, msg.Time)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "command.result", decoded["type"])
	assert.Equal(t, "dnc-service", decoded["source"])
}

func TestResultMessageSkipsStatus(t *testing.T) {
	_, ok, err := resultMessage(model.NewStatusEvent("dnc-service", sampleStatus()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultMessageRejectsWrongPayload(t *testing.T) {
	_, _, err := resultMessage(model.Event{Type: model.EventCommandResult, Data: "bogus"})
	assert.Error(t, err)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	fail   bool
	panic  bool
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Start(ctx context.Context) error { return nil }
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Publish(ctx context.Context, event model.Event) error {
	if s.panic {
		panic("sink exploded")
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRunDeliversInOrderUntilClosed(t *testing.T) {
	sink := &recordingSink{}
	events := make(chan model.Event, 3)
	events <- model.NewStatusEvent("a", sampleStatus())
	events <- model.NewResultEvent("a", sampleResult())
	close(events)

	Run(context.Background(), sink, events, time.Second, zap.NewNop())

	require.Equal(t, 2, sink.count())
	assert.Equal(t, model.EventConnectionStatus, sink.events[0].Type)
	assert.Equal(t, model.EventCommandResult, sink.events[1].Type)
}

func TestRunContinuesAfterFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &recordingSink{fail: true}
	events := make(chan model.Event, 2)
	events <- model.NewResultEvent("a", sampleResult())
	events <- model.NewResultEvent("a", sampleResult())
	close(events)

	Run(context.Background(), sink, events, time.Second, zap.New(core))

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, 2, logs.FilterMessage("Failed to publish event").Len())
}

func TestRunContainsPanics(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &recordingSink{panic: true}
	events := make(chan model.Event, 1)
	events <- model.NewResultEvent("a", sampleResult())
	close(events)

	assert.NotPanics(t, func() {
		Run(context.Background(), sink, events, time.Second, zap.New(core))
	})
	assert.Equal(t, 1, logs.Len())
}

func TestRunStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, &recordingSink{}, make(chan model.Event), time.Second, zap.NewNop())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

type fakeCommandRepo struct {
	created []model.CommandResult
	deleted time.Time
	err     error
}

func (r *fakeCommandRepo) Create(ctx context.Context, source string, result model.CommandResult) error {
	r.created = append(r.created, result)
	return r.err
}

func (r *fakeCommandRepo) List(ctx context.Context, filter *repository.CommandFilter) ([]*repository.CommandEntry, error) {
	return nil, nil
}

func (r *fakeCommandRepo) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	r.deleted = olderThan
	return 3, r.err
}

type fakeStatusRepo struct {
	created []model.ConnectionStatus
	err     error
}

func (r *fakeStatusRepo) Create(ctx context.Context, source string, status model.ConnectionStatus) error {
	r.created = append(r.created, status)
	return r.err
}

func (r *fakeStatusRepo) List(ctx context.Context, limit int) ([]*repository.StatusEntry, error) {
	return nil, nil
}

func (r *fakeStatusRepo) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	return 1, r.err
}

func TestJournalSinkRoutesEvents(t *testing.T) {
	commands := &fakeCommandRepo{}
	statuses := &fakeStatusRepo{}
	sink := NewJournalSink(commands, statuses, zap.NewNop())

	require.NoError(t, sink.Publish(context.Background(), model.NewResultEvent("a", sampleResult())))
	require.NoError(t, sink.Publish(context.Background(), model.NewStatusEvent("a", sampleStatus())))

	require.Len(t, commands.created, 1)
	assert.Equal(t, "write-1", commands.created[0].ID)
	require.Len(t, statuses.created, 1)
	assert.Equal(t, model.StateConnected, statuses.created[0].State)

	assert.Error(t, sink.Publish(context.Background(), model.Event{Type: "other", Data: 42}))
}

func TestJournalSinkCleanup(t *testing.T) {
	commands := &fakeCommandRepo{}
	sink := NewJournalSink(commands, &fakeStatusRepo{}, zap.NewNop())

	before := time.Now()
	require.NoError(t, sink.Cleanup(context.Background(), 24*time.Hour))
	assert.WithinDuration(t, before.Add(-24*time.Hour), commands.deleted, time.Second)

	failing := NewJournalSink(&fakeCommandRepo{err: errors.New("a")}, &fakeStatusRepo{err: errors.New("b")}, zap.NewNop())
	err := failing.Cleanup(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}
