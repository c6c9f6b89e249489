// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dnc-service/internal/dispatcher"
	"dnc-service/internal/driver"
	"dnc-service/internal/model"
	"dnc-service/internal/stats"
	"dnc-service/internal/utils"
	protocol "dnc-service/pkg/driver"
)

// Defaults applied when Config leaves a field unset
const (
	DefaultLivenessInterval = 2 * time.Second
	DefaultDisconnectGrace  = 5 * time.Second
	DefaultIOErrorThreshold = 3
	DefaultCommandTimeout   = 5 * time.Second
)

// LinkFactory opens and closes links to controllers
type LinkFactory interface {
	GetOrCreate(ctx context.Context, params model.ConnectionParams) (*driver.Link, error)
	Disconnect(params model.ConnectionParams) error
}

// Config tunes the supervisor
type Config struct {
	LivenessInterval time.Duration
	DisconnectGrace  time.Duration
	IOErrorThreshold int
	DefaultTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = DefaultLivenessInterval
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = DefaultDisconnectGrace
	}
	if c.IOErrorThreshold <= 0 {
		c.IOErrorThreshold = DefaultIOErrorThreshold
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultCommandTimeout
	}
	return c
}

// Supervisor owns the lifecycle of one controller connection: it opens the
// link, runs a dispatcher over it, watches liveness and publishes status.
// Subscriber callbacks must not call Connect or Disconnect synchronously.
type Supervisor struct {
	factory  LinkFactory
	recorder *stats.Recorder
	cfg      Config
	logger   *zap.Logger

	// opMu serializes Connect and Disconnect
	opMu sync.Mutex

	mu         sync.Mutex
	status     model.ConnectionStatus
	params     *model.ConnectionParams
	link       *driver.Link
	dispatcher *dispatcher.Dispatcher
	ioErrors   int
	escalated  bool
	lastAlive  bool
	stopLive   context.CancelFunc
	liveDone   chan struct{}

	// emitMu keeps status emissions in transition order
	emitMu   sync.Mutex
	resultMu sync.Mutex

	subMu      sync.Mutex
	nextSub    int
	statusSubs map[int]func(model.ConnectionStatus)
	resultSubs map[int]func(model.CommandResult)
}

// New creates a disconnected supervisor
func New(factory LinkFactory, recorder *stats.Recorder, cfg Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		factory:  factory,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(zap.String("component", "supervisor")),
		status: model.ConnectionStatus{
			State:     model.StateDisconnected,
			Message:   "not connected",
			Timestamp: time.Now(),
		},
		statusSubs: make(map[int]func(model.ConnectionStatus)),
		resultSubs: make(map[int]func(model.CommandResult)),
	}
}

// Connect opens a connection described by params. Connecting again to the
// same endpoint is a no-op; a different endpoint requires Disconnect first.
func (s *Supervisor) Connect(ctx context.Context, params model.ConnectionParams) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	state := s.status.State
	current := s.params
	s.mu.Unlock()

	if state == model.StateConnected && current != nil {
		if current.Key() == params.Key() {
			return nil
		}
		return model.Errorf(model.ErrorKindConnection, "connect",
			"already connected to %s, disconnect first", current.Address())
	}

	if current != nil {
		s.logger.Info("Reconnecting, tearing down previous link", zap.String("key", current.Key()))
		if err := s.teardown(ctx); err != nil {
			s.logger.Warn("Teardown before reconnect reported errors", zap.Error(err))
		}
	}

	cl := utils.NewConnectionLogger(s.logger, params)
	s.transition(model.StateConnecting, fmt.Sprintf("connecting to %s", params.Address()), nil)

	start := time.Now()
	link, err := s.factory.GetOrCreate(ctx, params)
	cl.LogConnection("connect", time.Since(start), err)
	if err != nil {
		s.transition(model.StateError, err.Error(), nil)
		return err
	}

	d := dispatcher.New(link, s.recorder, s.logger, dispatcher.WithObserver(s.onResult))
	if err := d.Start(); err != nil {
		s.factory.Disconnect(params)
		s.transition(model.StateError, err.Error(), nil)
		return model.NewError(model.ErrorKindConnection, "connect", err)
	}

	p := params
	s.mu.Lock()
	s.params = &p
	s.link = link
	s.dispatcher = d
	s.ioErrors = 0
	s.escalated = false
	s.lastAlive = true
	s.mu.Unlock()

	s.transition(model.StateConnected, "connected", deviceInfo(params))
	s.startLiveness(link)
	return nil
}

// Disconnect stops the dispatcher, closes the link and reports Disconnected.
// Disconnecting while disconnected is a no-op.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	idle := s.status.State == model.StateDisconnected && s.params == nil
	current := s.params
	s.mu.Unlock()

	if idle {
		return nil
	}

	start := time.Now()
	err := s.teardown(ctx)
	if current != nil {
		cl := utils.NewConnectionLogger(s.logger, *current)
		cl.LogConnection("disconnect", time.Since(start), err)
		cl.LogHealth(s.recorder.Snapshot())
	}

	s.transition(model.StateDisconnected, "disconnected", nil)
	return err
}

// teardown stops liveness and the dispatcher, then closes the link
func (s *Supervisor) teardown(ctx context.Context) error {
	s.stopLiveness()

	s.mu.Lock()
	d := s.dispatcher
	params := s.params
	s.dispatcher = nil
	s.link = nil
	s.params = nil
	s.mu.Unlock()

	var errs error
	if d != nil {
		graceCtx, cancel := context.WithTimeout(ctx, s.cfg.DisconnectGrace)
		if err := d.Stop(graceCtx); err != nil {
			// the in-flight command fails once the transport closes below
			s.logger.Warn("In-flight command did not finish within grace period",
				zap.Duration("grace", s.cfg.DisconnectGrace),
				zap.Error(err),
			)
		}
		cancel()
	}
	if params != nil {
		errs = multierr.Append(errs, s.factory.Disconnect(*params))
	}
	return errs
}

// transition records and emits a new status
func (s *Supervisor) transition(state model.ConnectionState, message string, info map[string]string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	from := s.status.State
	s.status = model.ConnectionStatus{
		State:      state,
		Message:    message,
		DeviceInfo: info,
		Timestamp:  time.Now(),
	}
	snapshot := s.status.Clone()
	params := s.params
	s.mu.Unlock()

	if params != nil {
		utils.NewConnectionLogger(s.logger, *params).LogStatus(from, state, message)
	} else {
		s.logger.Info("Connection state changed",
			zap.String("from", string(from)),
			zap.String("to", string(state)),
			zap.String("message", message),
		)
	}

	for _, fn := range s.statusSubscribers() {
		fn(snapshot)
	}
}

func deviceInfo(params model.ConnectionParams) map[string]string {
	return map[string]string{
		"vendor":    string(params.Vendor),
		"transport": string(params.Transport),
		"address":   params.Address(),
	}
}

func (s *Supervisor) startLiveness(link *driver.Link) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.stopLive = cancel
	s.liveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.cfg.LivenessInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.checkLiveness(link)
			}
		}
	}()
}

func (s *Supervisor) stopLiveness() {
	s.mu.Lock()
	cancel, done := s.stopLive, s.liveDone
	s.stopLive, s.liveDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// checkLiveness emits only when the observation differs from the previous one
func (s *Supervisor) checkLiveness(link *driver.Link) {
	alive := link.Transport.IsAlive()

	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return
	}
	changed := alive != s.lastAlive
	s.lastAlive = alive
	info := deviceInfo(link.Params)
	s.mu.Unlock()

	if !changed {
		return
	}
	if alive {
		s.transition(model.StateConnected, "transport restored", info)
	} else {
		s.transition(model.StateError, "transport lost", info)
	}
}

// onResult observes every command result for escalation and subscribers
func (s *Supervisor) onResult(result model.CommandResult) {
	var escalate, restore bool
	var count int
	var info map[string]string

	s.mu.Lock()
	if s.link != nil {
		info = deviceInfo(s.link.Params)
	}
	switch {
	case result.Success:
		restore = s.escalated && s.status.State == model.StateError && s.lastAlive
		s.ioErrors = 0
		s.escalated = false
	case result.ErrorKind == model.ErrorKindIO:
		s.ioErrors++
		count = s.ioErrors
		if count >= s.cfg.IOErrorThreshold && !s.escalated && s.status.State == model.StateConnected {
			escalate = true
			s.escalated = true
		}
	}
	s.mu.Unlock()

	s.resultMu.Lock()
	for _, fn := range s.resultSubscribers() {
		fn(result)
	}
	s.resultMu.Unlock()

	if escalate {
		s.transition(model.StateError, fmt.Sprintf("%d consecutive I/O errors", count), info)
	}
	if restore {
		s.transition(model.StateConnected, "communication restored", info)
	}
}

// SubscribeStatus registers fn for status changes and returns its unsubscribe func
func (s *Supervisor) SubscribeStatus(fn func(model.ConnectionStatus)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.statusSubs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.statusSubs, id)
		s.subMu.Unlock()
	}
}

// SubscribeResults registers fn for command results and returns its unsubscribe func
func (s *Supervisor) SubscribeResults(fn func(model.CommandResult)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.resultSubs[id] = fn
	return func() {
		s.subMu.Lock()
		delete(s.resultSubs, id)
		s.subMu.Unlock()
	}
}

func (s *Supervisor) statusSubscribers() []func(model.ConnectionStatus) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ids := make([]int, 0, len(s.statusSubs))
	for id := range s.statusSubs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(model.ConnectionStatus), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.statusSubs[id])
	}
	return fns
}

func (s *Supervisor) resultSubscribers() []func(model.CommandResult) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ids := make([]int, 0, len(s.resultSubs))
	for id := range s.resultSubs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(model.CommandResult), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.resultSubs[id])
	}
	return fns
}

// current returns the active dispatcher and link
func (s *Supervisor) current(op string) (*dispatcher.Dispatcher, *driver.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatcher == nil {
		return nil, nil, model.Errorf(model.ErrorKindConnection, op, "not connected")
	}
	return s.dispatcher, s.link, nil
}

// Submit queues cmd on the active connection
func (s *Supervisor) Submit(cmd *model.Command, callback dispatcher.Callback) (string, error) {
	d, _, err := s.current("submit")
	if err != nil {
		return "", err
	}
	return d.Submit(cmd, callback)
}

// SendSync runs cmd on the active connection and waits for its result
func (s *Supervisor) SendSync(ctx context.Context, cmd *model.Command) model.CommandResult {
	d, _, err := s.current("send")
	if err != nil {
		return model.Failed(cmd, err, 0)
	}
	return d.SendSync(ctx, cmd)
}

// DefaultTimeout is the per-command timeout of the active connection
func (s *Supervisor) DefaultTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.params != nil && s.params.Timeout > 0 {
		return s.params.Timeout
	}
	return s.cfg.DefaultTimeout
}

// ReadData reads length units starting at address
func (s *Supervisor) ReadData(ctx context.Context, address string, length int) model.CommandResult {
	return s.SendSync(ctx, model.NewReadCommand("", address, length, s.DefaultTimeout()))
}

// WriteData writes data to address
func (s *Supervisor) WriteData(ctx context.Context, address, data string) model.CommandResult {
	return s.SendSync(ctx, model.NewWriteCommand("", address, data, s.DefaultTimeout()))
}

// ExecuteProgram starts a program. Programs get twice the default timeout.
func (s *Supervisor) ExecuteProgram(ctx context.Context, programNumber string, parameters map[string]interface{}, program string) model.CommandResult {
	return s.SendSync(ctx, model.NewExecuteCommand("", programNumber, parameters, program, s.executeTimeout()))
}

func (s *Supervisor) executeTimeout() time.Duration {
	return 2 * s.DefaultTimeout()
}

// QueryStatus sends a raw query
func (s *Supervisor) QueryStatus(ctx context.Context, queryType string) model.CommandResult {
	return s.SendSync(ctx, model.NewQueryCommand("", queryType, s.DefaultTimeout()))
}

// QueryDeviceStatus asks for machine status and decodes it with the active adapter
func (s *Supervisor) QueryDeviceStatus(ctx context.Context) (*model.DeviceStatus, error) {
	d, link, err := s.current("query device status")
	if err != nil {
		return nil, err
	}

	cmd := model.NewQueryCommand("", link.Adapter.StatusQuery(), s.DefaultTimeout())
	result := d.SendSync(ctx, cmd)
	if !result.Success {
		return nil, result.Err()
	}

	resp := &protocol.Response{Data: result.Data}
	if raw, ok := result.Data.(string); ok {
		resp.Raw = raw
	} else if result.Data != nil {
		resp.Raw = fmt.Sprint(result.Data)
	}
	return link.Adapter.ParseStatus(resp)
}

// Status returns a copy of the current status
func (s *Supervisor) Status() model.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// Params returns the parameters of the active connection
func (s *Supervisor) Params() (model.ConnectionParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.params == nil {
		return model.ConnectionParams{}, false
	}
	return *s.params, true
}

// QueueLength returns the number of queued commands, 0 when disconnected
func (s *Supervisor) QueueLength() int {
	d, _, err := s.current("queue length")
	if err != nil {
		return 0
	}
	return d.QueueLength()
}

// Stats returns the command statistics
func (s *Supervisor) Stats() model.StatsSnapshot {
	return s.recorder.Snapshot()
}

// History returns recent command records, oldest first
func (s *Supervisor) History(limit int) []model.CommandRecord {
	return s.recorder.History(limit)
}

// ResetStats clears statistics and history
func (s *Supervisor) ResetStats() {
	s.recorder.Reset()
	s.logger.Info("Command statistics reset")
}
