// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"dnc-service/internal/driver"
	"dnc-service/internal/model"
	"dnc-service/internal/stats"
	"dnc-service/internal/utils"
	protocol "dnc-service/pkg/driver"
)

// State is the dispatcher lifecycle state
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateDraining State = "DRAINING"
	StateStopped  State = "STOPPED"
)

// ErrNotRunning rejects submissions outside the Running state
var ErrNotRunning = model.Errorf(model.ErrorKindConnection, "submit", "dispatcher is not running")

// Callback receives the single result of a submitted command
type Callback func(model.CommandResult)

// Observer sees every real command result in completion order
type Observer func(model.CommandResult)

// entry correlates a command with its one-shot resolution
type entry struct {
	cmd      *model.Command
	callback Callback
	queuedAt time.Time
	once     sync.Once
}

// resolve delivers result unless the entry was already resolved
func (e *entry) resolve(result model.CommandResult) bool {
	first := false
	e.once.Do(func() {
		first = true
		if e.callback != nil {
			e.callback(result)
		}
	})
	return first
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithObserver adds a result observer
func WithObserver(fn Observer) Option {
	return func(d *Dispatcher) {
		d.observers = append(d.observers, fn)
	}
}

// Dispatcher serializes commands to one controller. A single worker
// pops the FIFO queue, so at most one exchange is on the wire.
type Dispatcher struct {
	link      *driver.Link
	recorder  *stats.Recorder
	logger    *zap.Logger
	observers []Observer

	mu      sync.Mutex
	state   State
	queue   []*entry
	pending map[string]*entry

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}

	// worker only: a timed out command may still answer until staleUntil
	staleUntil time.Time
}

// New creates a dispatcher in the Idle state
func New(link *driver.Link, recorder *stats.Recorder, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		link:     link,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "dispatcher"), zap.String("key", link.Params.Key())),
		state:    StateIdle,
		pending:  make(map[string]*entry),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateIdle {
		return fmt.Errorf("dispatcher cannot start from state %s", d.state)
	}
	d.state = StateRunning
	go d.run()

	d.logger.Debug("Dispatcher started")
	return nil
}

// Submit queues cmd and returns without waiting. callback is invoked exactly once.
func (d *Dispatcher) Submit(cmd *model.Command, callback Callback) (string, error) {
	const op = "submit"

	if cmd == nil {
		return "", model.Errorf(model.ErrorKindValidation, op, "command is nil")
	}
	if cmd.ID == "" {
		return "", model.Errorf(model.ErrorKindValidation, op, "command id is required")
	}
	if cmd.Timeout <= 0 {
		return "", model.Errorf(model.ErrorKindValidation, op, "command %s has no timeout", cmd.ID)
	}

	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return "", ErrNotRunning
	}
	if _, exists := d.pending[cmd.ID]; exists {
		d.mu.Unlock()
		return "", model.Errorf(model.ErrorKindValidation, op, "command id %s is already pending", cmd.ID)
	}
	e := &entry{cmd: cmd, callback: callback, queuedAt: time.Now()}
	d.queue = append(d.queue, e)
	d.pending[cmd.ID] = e
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return cmd.ID, nil
}

// SendSync submits cmd and waits for its result, the command timeout or ctx,
// whichever comes first. A timed out or cancelled wait leaves the command
// queued; its late result still reaches stats and observers.
func (d *Dispatcher) SendSync(ctx context.Context, cmd *model.Command) model.CommandResult {
	done := make(chan model.CommandResult, 1)
	if _, err := d.Submit(cmd, func(result model.CommandResult) { done <- result }); err != nil {
		return model.Failed(cmd, err, 0)
	}

	start := time.Now()
	timer := time.NewTimer(cmd.Timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		return result
	case <-timer.C:
		d.resolveEarly(cmd, model.Failed(cmd,
			model.Errorf(model.ErrorKindTimeout, "send sync", "no reply within %s", cmd.Timeout),
			time.Since(start)))
	case <-ctx.Done():
		d.resolveEarly(cmd, model.Failed(cmd,
			model.NewError(model.ErrorKindCancelled, "send sync", ctx.Err()),
			time.Since(start)))
	}
	return <-done
}

// resolveEarly resolves a still pending command with a synthetic result.
// When the worker already finished it, its real resolution wins.
func (d *Dispatcher) resolveEarly(cmd *model.Command, result model.CommandResult) {
	d.mu.Lock()
	e, ok := d.pending[cmd.ID]
	d.mu.Unlock()

	if ok && d.resolve(e, result) {
		d.logger.Debug("Command resolved before completion",
			zap.String("command_id", cmd.ID),
			zap.String("error_kind", string(result.ErrorKind)),
		)
	}
}

// Stop drains the dispatcher: the in-flight command finishes, queued commands
// resolve as cancelled. It waits for the worker or ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateIdle:
		d.state = StateStopped
		close(d.done)
		d.mu.Unlock()
		return nil
	case StateRunning:
		d.state = StateDraining
		queued := d.queue
		d.queue = nil
		for _, e := range queued {
			delete(d.pending, e.cmd.ID)
		}
		close(d.stopCh)
		d.mu.Unlock()

		d.cancelQueued(queued)
	default:
		d.mu.Unlock()
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher stop timed out, worker still finishing")
		return ctx.Err()
	}
}

func (d *Dispatcher) cancelQueued(queued []*entry) {
	if len(queued) == 0 {
		return
	}
	d.logger.Info("Cancelling queued commands", zap.Int("count", len(queued)))

	for _, e := range queued {
		result := model.Failed(e.cmd,
			model.Errorf(model.ErrorKindCancelled, "dispatch", "dispatcher stopped before command started"),
			time.Since(e.queuedAt))
		d.notify(result)
		d.resolve(e, result)
	}
}

// State returns the lifecycle state
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// QueueLength returns the number of commands waiting to start
func (d *Dispatcher) QueueLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pending returns the number of unfinished commands including the in-flight one
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) run() {
	defer func() {
		d.mu.Lock()
		d.state = StateStopped
		d.mu.Unlock()
		close(d.done)
		d.logger.Debug("Dispatcher stopped")
	}()

	for {
		e, ok := d.next()
		if !ok {
			return
		}
		d.process(e)
	}
}

// next blocks until a command is queued or the dispatcher leaves Running
func (d *Dispatcher) next() (*entry, bool) {
	for {
		d.mu.Lock()
		if d.state != StateRunning {
			d.mu.Unlock()
			return nil, false
		}
		if len(d.queue) > 0 {
			e := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return e, true
		}
		d.mu.Unlock()

		select {
		case <-d.wake:
		case <-d.stopCh:
		}
	}
}

func (d *Dispatcher) process(e *entry) {
	if !d.staleUntil.IsZero() {
		d.discardStale()
	}

	start := time.Now()
	cl := utils.NewCommandLogger(d.logger, e.cmd)
	cl.Start()

	var result model.CommandResult
	var pc panics.Catcher
	pc.Try(func() {
		result = d.execute(e.cmd, start, cl)
	})
	if r := pc.Recovered(); r != nil {
		d.logger.Error("Recovered from panic in command pipeline",
			zap.String("command_id", e.cmd.ID),
			zap.Any("panic", r.Value),
			zap.ByteString("stack", r.Stack),
		)
		result = model.Failed(e.cmd,
			model.Errorf(model.ErrorKindProtocol, "dispatch", "panic: %v", r.Value),
			time.Since(start))
	}

	if result.Success {
		cl.Success(zap.Duration("latency", result.Latency))
	} else {
		cl.Failure(result.Err())
	}

	d.recorder.Record(result)

	d.mu.Lock()
	delete(d.pending, e.cmd.ID)
	d.mu.Unlock()

	d.notify(result)
	if !d.resolve(e, result) {
		d.logger.Debug("Late result after early resolution", zap.String("command_id", e.cmd.ID))
	}
}

// execute runs validate, encode, write, read and decode under one deadline
func (d *Dispatcher) execute(cmd *model.Command, start time.Time, cl *utils.CommandLogger) model.CommandResult {
	warnings, err := protocol.ValidateCommand(cmd)
	if err != nil {
		return model.Failed(cmd, err, time.Since(start))
	}
	for _, w := range warnings {
		cl.Warn("Program check warning", zap.String("warning", w))
	}

	frame, err := d.link.Adapter.Encode(cmd)
	if err != nil {
		return model.Failed(cmd, err, time.Since(start))
	}

	deadline := start.Add(cmd.Timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	if err := d.link.Transport.WriteFrame(ctx, frame); err != nil {
		return model.Failed(cmd, err, time.Since(start))
	}

	reply, err := d.link.Transport.ReadFrame(ctx, deadline)
	if err != nil {
		if kind := model.KindOf(err); kind == model.ErrorKindTimeout || kind == model.ErrorKindCancelled {
			d.staleUntil = time.Now().Add(cmd.Timeout)
		}
		return model.Failed(cmd, err, time.Since(start))
	}

	resp, err := d.link.Adapter.Decode(reply)
	if err != nil {
		return model.Failed(cmd, err, time.Since(start))
	}
	return model.Succeeded(cmd, resp.Data, time.Since(start))
}

// discardStale waits up to staleUntil for the late reply of a timed out
// command, then drops it with anything else left on the line. Replies later
// than that window are indistinguishable from the next command's reply.
func (d *Dispatcher) discardStale() {
	until := d.staleUntil
	d.staleUntil = time.Time{}

	ctx, cancel := context.WithDeadline(context.Background(), until)
	defer cancel()

	if frame, err := d.link.Transport.ReadFrame(ctx, until); err == nil {
		d.logger.Warn("Dropped late reply of a timed out command", zap.ByteString("frame", frame))
	}

	dropped, err := d.link.Transport.Discard(context.Background())
	if err != nil {
		d.logger.Warn("Failed to discard stale input", zap.Error(err))
		return
	}
	if dropped > 0 {
		d.logger.Warn("Discarded stale input", zap.Int("bytes", dropped))
	}
}

// notify runs every observer; a panicking observer is logged and skipped
func (d *Dispatcher) notify(result model.CommandResult) {
	for _, fn := range d.observers {
		var pc panics.Catcher
		pc.Try(func() { fn(result) })
		if r := pc.Recovered(); r != nil {
			d.logger.Error("Recovered from panic in result observer",
				zap.String("command_id", result.ID),
				zap.Any("panic", r.Value),
				zap.ByteString("stack", r.Stack),
			)
		}
	}
}

// resolve delivers result to the entry's callback, recovering a panicking callback
func (d *Dispatcher) resolve(e *entry, result model.CommandResult) bool {
	first := false
	var pc panics.Catcher
	pc.Try(func() { first = e.resolve(result) })
	if r := pc.Recovered(); r != nil {
		d.logger.Error("Recovered from panic in result callback",
			zap.String("command_id", result.ID),
			zap.Any("panic", r.Value),
			zap.ByteString("stack", r.Stack),
		)
		// the callback only runs on the first resolution
		return true
	}
	return first
}
