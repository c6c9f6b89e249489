// internal/stats/recorder.go
package stats

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"dnc-service/internal/model"
)

// DefaultHistorySize is the ring capacity when none is configured
const DefaultHistorySize = 1000

// Recorder keeps command counters and a bounded history of recent commands.
// Counters are readable without locking; the ring and the running average
// share one mutex.
type Recorder struct {
	total       atomic.Int64
	success     atomic.Int64
	failure     atomic.Int64
	lastLatency atomic.Duration
	lastTime    atomic.Int64 // unix nanos, 0 when nothing was recorded

	mu         sync.Mutex
	avgLatency time.Duration
	ring       []model.CommandRecord
	next       int
	size       int
}

// NewRecorder creates a recorder holding at most capacity history records
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Recorder{
		ring: make([]model.CommandRecord, capacity),
	}
}

// Record accounts for one command result
func (r *Recorder) Record(result model.CommandResult) {
	record := model.CommandRecord{
		ID:        result.ID,
		Kind:      result.Kind,
		Status:    model.RecordSuccess,
		Latency:   result.Latency,
		Timestamp: result.CompletedAt,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if !result.Success {
		record.Status = model.RecordFailed
		record.ErrorKind = result.ErrorKind
		record.Error = result.Error
	}

	r.mu.Lock()
	r.total.Inc()
	if result.Success {
		n := r.success.Inc()
		r.avgLatency = (r.avgLatency*time.Duration(n-1) + result.Latency) / time.Duration(n)
	} else {
		r.failure.Inc()
	}
	r.lastLatency.Store(result.Latency)
	r.lastTime.Store(record.Timestamp.UnixNano())

	r.ring[r.next] = record
	r.next = (r.next + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the current statistics
func (r *Recorder) Snapshot() model.StatsSnapshot {
	r.mu.Lock()
	avg := r.avgLatency
	r.mu.Unlock()

	// outcome counters are bumped after total, so load them first
	successes := r.success.Load()
	failures := r.failure.Load()

	snap := model.StatsSnapshot{
		TotalCommands:      r.total.Load(),
		SuccessCount:       successes,
		FailureCount:       failures,
		AverageLatency:     avg,
		LastCommandLatency: r.lastLatency.Load(),
	}
	if ns := r.lastTime.Load(); ns != 0 {
		snap.LastCommandTime = time.Unix(0, ns)
	}
	if snap.TotalCommands > 0 {
		snap.SuccessRate = float64(snap.SuccessCount) / float64(snap.TotalCommands) * 100
	}
	return snap
}

// History returns up to limit of the most recent records, oldest first.
// A limit <= 0 returns the whole ring.
func (r *Recorder) History(limit int) []model.CommandRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]model.CommandRecord, n)
	start := (r.next - n + len(r.ring)) % len(r.ring)
	for i := 0; i < n; i++ {
		out[i] = r.ring[(start+i)%len(r.ring)]
	}
	return out
}

// Reset clears counters and history
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total.Store(0)
	r.success.Store(0)
	r.failure.Store(0)
	r.lastLatency.Store(0)
	r.lastTime.Store(0)
	r.avgLatency = 0
	for i := range r.ring {
		r.ring[i] = model.CommandRecord{}
	}
	r.next = 0
	r.size = 0
}

// Capacity returns the history ring size
func (r *Recorder) Capacity() int {
	return len(r.ring)
}
