package stats

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnc-service/internal/model"
)

func success(id string, latency time.Duration) model.CommandResult {
	cmd := model.NewQueryCommand(id, "STATUS", time.Second)
	return model.Succeeded(cmd, "OK", latency)
}

func failure(id string, latency time.Duration) model.CommandResult {
	cmd := model.NewQueryCommand(id, "STATUS", time.Second)
	return model.Failed(cmd, model.NewError(model.ErrorKindTimeout, "read frame", errors.New("no reply")), latency)
}

func TestRecordCounters(t *testing.T) {
	r := NewRecorder(10)

	r.Record(success("a", 10*time.Millisecond))
	r.Record(failure("b", 200*time.Millisecond))
	r.Record(success("c", 30*time.Millisecond))

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap.TotalCommands)
	assert.Equal(t, int64(2), snap.SuccessCount)
	assert.Equal(t, int64(1), snap.FailureCount)
	assert.Equal(t, 30*time.Millisecond, snap.LastCommandLatency)
	assert.InDelta(t, 66.67, snap.SuccessRate, 0.01)
	assert.False(t, snap.LastCommandTime.IsZero())
}

func TestAverageLatencyCountsSuccessesOnly(t *testing.T) {
	r := NewRecorder(10)

	r.Record(success("a", 10*time.Millisecond))
	r.Record(failure("b", time.Second))
	r.Record(success("c", 30*time.Millisecond))

	assert.Equal(t, 20*time.Millisecond, r.Snapshot().AverageLatency)
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(success(fmt.Sprintf("c%d", i), time.Millisecond))
	}

	history := r.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, "c2", history[0].ID)
	assert.Equal(t, "c4", history[2].ID)

	last := r.History(2)
	require.Len(t, last, 2)
	assert.Equal(t, "c3", last[0].ID)
	assert.Equal(t, "c4", last[1].ID)
}

func TestHistoryRecordsFailures(t *testing.T) {
	r := NewRecorder(0)
	assert.Equal(t, DefaultHistorySize, r.Capacity())

	r.Record(failure("x", time.Millisecond))
	history := r.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, model.RecordFailed, history[0].Status)
	assert.Equal(t, model.ErrorKindTimeout, history[0].ErrorKind)
	assert.Contains(t, history[0].Error, "no reply")
}

func TestReset(t *testing.T) {
	r := NewRecorder(5)
	r.Record(success("a", time.Millisecond))
	r.Reset()

	snap := r.Snapshot()
	assert.Zero(t, snap.TotalCommands)
	assert.Zero(t, snap.AverageLatency)
	assert.True(t, snap.LastCommandTime.IsZero())
	assert.Empty(t, r.History(0))
}

func TestConcurrentSnapshots(t *testing.T) {
	r := NewRecorder(100)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.Record(success(fmt.Sprintf("c%d", i), time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap := r.Snapshot()
			assert.LessOrEqual(t, snap.SuccessCount, snap.TotalCommands)
			r.History(10)
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(500), r.Snapshot().TotalCommands)
	assert.Len(t, r.History(0), 100)
}
