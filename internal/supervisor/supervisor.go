package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/shared/id"
)

// outputDrainTimeout bounds how long output is read after the process has
// exited. Descendants that inherited stdout or stderr can hold them open.
const outputDrainTimeout = time.Second

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the supervisor logger. The app-server's stderr is logged
// under the "app-server.stderr" child of it.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithBinaryOverride supplies a user-preferred binary path, consulted on
// every start.
func WithBinaryOverride(fn func() string) Option {
	return func(s *Supervisor) { s.locator.Override = fn }
}

// WithEnv adds KEY=VALUE pairs to the child environment.
func WithEnv(kv ...string) Option {
	return func(s *Supervisor) { s.env = append(s.env, kv...) }
}

type subscriber struct {
	id id.SubscriptionID
	fn func(Event)
}

type startAttempt struct {
	done chan struct{}
	err  error
}

// instance is one spawned process and its connection.
type instance struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	outPipe   *os.File
	errPipe   *os.File
	conn      *jsonrpc.Conn
	binary    string
	stderr    *RingBuffer
	startedAt time.Time
	userAgent string

	eof        chan struct{}
	eofOnce    sync.Once
	stderrDone chan struct{}
	exited     chan struct{}
	exit       ExitInfo

	// guarded by Supervisor.mu
	expected bool
}

func (i *instance) pid() int {
	if i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Supervisor owns the app-server process: locating, spawning, the
// initialize handshake, stopping, and reporting exits. It never restarts
// the process on its own.
type Supervisor struct {
	cfg        config.AppServerConfig
	dispatcher *jsonrpc.Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	locator    *Locator
	guard      *resilience.Breaker
	env        []string

	mu       sync.Mutex
	state    State
	inst     *instance
	attempt  *startAttempt
	lastExit *ExitInfo
	queue    []Event

	subMu sync.RWMutex
	subs  []subscriber

	wake        chan struct{}
	quit        chan struct{}
	quitOnce    sync.Once
	deliverDone chan struct{}
}

// New creates a stopped supervisor. Inbound traffic from every process it
// starts is handed to d.
func New(cfg config.AppServerConfig, d *jsonrpc.Dispatcher, opts ...Option) *Supervisor {
	searchPaths := cfg.SearchPaths
	if len(searchPaths) == 0 {
		searchPaths = DefaultSearchPaths
	}
	s := &Supervisor{
		cfg:        cfg,
		dispatcher: d,
		logger:     zap.NewNop(),
		locator: &Locator{
			Binary:      cfg.Binary,
			Name:        cfg.Name,
			SearchPaths: searchPaths,
		},
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		deliverDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = jsonrpc.NewDispatcher(appserver.Events, s.logger)
	}
	if cfg.StartFailures > 0 {
		s.guard = resilience.New("app-server", resilience.Settings{
			Timeout:     cfg.StartCooldown,
			ReadyToTrip: resilience.ConsecutiveFailures(cfg.StartFailures),
			OnStateChange: func(name string, from, to resilience.State) {
				s.logger.Info("start guard changed state",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	go s.deliver()
	return s
}

// Start launches the process and completes the handshake. If the process
// is already running it returns nil; concurrent callers share one attempt.
// ctx only bounds how long the caller waits. The handshake itself is
// bounded by the configured handshake timeout.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, StateStopping)
	case StateStopped:
		s.state = StateStarting
		s.attempt = &startAttempt{done: make(chan struct{})}
		s.emitLocked(Event{Type: EventState, State: StateStarting})
		go s.runStart(s.attempt)
	}
	a := s.attempt
	s.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) runStart(a *startAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	defer cancel()

	var inst *instance
	launch := func() error {
		var err error
		inst, err = s.launch(ctx)
		return err
	}
	var err error
	if s.guard != nil {
		err = s.guard.Do(launch)
	} else {
		err = launch()
	}

	s.mu.Lock()
	if err == nil {
		select {
		case <-inst.exited:
			err = &HandshakeError{Err: &ProcessExitedError{Code: inst.exit.Code, Signal: inst.exit.Signal}, Stderr: inst.exit.Stderr}
		default:
		}
	}
	if err != nil {
		s.state = StateStopped
		s.emitLocked(Event{Type: EventStartFailed, State: StateStopped, Error: err.Error()})
		s.emitLocked(Event{Type: EventState, State: StateStopped})
	} else {
		s.inst = inst
		s.state = StateRunning
		s.emitLocked(Event{Type: EventState, State: StateRunning, PID: inst.pid()})
	}
	a.err = err
	s.mu.Unlock()
	close(a.done)

	switch {
	case err == nil:
		s.metrics.RecordProcessStart("ok")
		s.metrics.SetProcessRunning(true)
		s.logger.Info("app-server running",
			zap.String("binary", inst.binary),
			zap.Int("pid", inst.pid()),
			zap.String("user_agent", inst.userAgent),
		)
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.metrics.RecordProcessStart("circuit_open")
		s.logger.Warn("app-server start refused", zap.Error(err))
	default:
		var spawnErr *SpawnError
		status := "handshake_error"
		if errors.As(err, &spawnErr) {
			status = "spawn_error"
		}
		s.metrics.RecordProcessStart(status)
		s.logger.Error("app-server failed to start", zap.Error(err))
	}
}

func (s *Supervisor) launch(ctx context.Context) (*instance, error) {
	name := s.cfg.Name
	if s.cfg.Binary != "" {
		name = s.cfg.Binary
	}
	path, err := s.locator.Locate()
	if err != nil {
		return nil, &SpawnError{Binary: name, Err: err}
	}

	cmd := exec.Command(path, s.cfg.Args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.env...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Binary: path, Err: fmt.Errorf("creating stdin pipe: %w", err)}
	}
	// Output pipes are created here rather than with StdoutPipe so that
	// Wait returns when the process exits, not when every holder of the
	// write ends has closed them.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Binary: path, Err: fmt.Errorf("creating stdout pipe: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, &SpawnError{Binary: path, Err: fmt.Errorf("creating stderr pipe: %w", err)}
	}
	cmd.Stdout, cmd.Stderr = stdoutW, stderrW
	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdout, stderr)
		return nil, &SpawnError{Binary: path, Err: err}
	}

	inst := &instance{
		cmd:        cmd,
		stdin:      stdin,
		outPipe:    stdout,
		errPipe:    stderr,
		binary:     path,
		stderr:     NewRingBuffer(StderrTailSize),
		startedAt:  time.Now(),
		eof:        make(chan struct{}),
		stderrDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
	s.logger.Debug("app-server spawned", zap.String("binary", path), zap.Int("pid", inst.pid()))

	go func() {
		defer close(inst.stderrDone)
		pumpStderr(stderr, inst.stderr, s.logger.Named("app-server.stderr"))
	}()
	inst.conn = jsonrpc.NewConn(stdout, stdin, s.dispatcher,
		jsonrpc.WithLogger(s.logger.Named("jsonrpc")),
		jsonrpc.WithMetrics(s.metrics),
		jsonrpc.WithEOFHandler(func(error) {
			inst.eofOnce.Do(func() { close(inst.eof) })
		}),
	)
	go s.watch(inst)

	if err := s.handshake(ctx, inst); err != nil {
		s.kill(inst)
		wait := time.NewTimer(s.cfg.StopTimeout + outputDrainTimeout)
		defer wait.Stop()
		select {
		case <-inst.exited:
		case <-wait.C:
			s.logger.Warn("app-server did not exit after kill", zap.Int("pid", inst.pid()))
		}
		return nil, &HandshakeError{Err: err, Stderr: inst.stderr.String()}
	}
	return inst, nil
}

// kill sends SIGKILL to the process and everything it started.
func (s *Supervisor) kill(inst *instance) {
	if err := killProcessGroup(inst.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("kill failed", zap.Int("pid", inst.pid()), zap.Error(err))
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (s *Supervisor) handshake(ctx context.Context, inst *instance) error {
	params := appserver.InitializeParams{ClientInfo: appserver.ClientInfo{
		Name:    s.cfg.ClientName,
		Version: s.cfg.ClientVersion,
	}}
	var res appserver.InitializeResult
	if err := inst.conn.Call(ctx, "initialize", params, &res); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	inst.userAgent = res.UserAgent
	if err := inst.conn.Notify("initialized", nil); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	return nil
}

// watch reaps the process, drains what is left of its output for a bounded
// time, then fails every pending call. This is the only place CancelAll is
// invoked.
func (s *Supervisor) watch(inst *instance) {
	err := inst.cmd.Wait()

	// leftover descendants would keep the output pipes open
	_ = killProcessGroup(inst.cmd.Process)
	drain := time.NewTimer(outputDrainTimeout)
	for _, done := range []chan struct{}{inst.eof, inst.stderrDone} {
		select {
		case <-done:
		case <-drain.C:
			s.logger.Warn("app-server output still open after exit", zap.Int("pid", inst.pid()))
			closeAll(inst.outPipe, inst.errPipe)
			<-done
		}
	}
	drain.Stop()
	closeAll(inst.outPipe, inst.errPipe)

	exit := ExitInfo{At: time.Now(), Code: -1}
	if ps := inst.cmd.ProcessState; ps != nil {
		exit.Code = ps.ExitCode()
		exit.Signal = exitSignal(ps)
	} else if err != nil {
		s.logger.Warn("wait failed", zap.Error(err))
	}
	exit.Stderr = inst.stderr.String()
	inst.exit = exit

	inst.conn.CancelAll(&ProcessExitedError{Code: exit.Code, Signal: exit.Signal})
	close(inst.exited)
	s.onExit(inst)
}

func (s *Supervisor) onExit(inst *instance) {
	s.mu.Lock()
	if s.inst != inst {
		// never became running; runStart reports it
		s.mu.Unlock()
		s.metrics.RecordProcessExit("handshake")
		return
	}
	s.inst = nil
	exit := inst.exit
	exit.Unexpected = !inst.expected
	s.lastExit = &exit
	if exit.Unexpected {
		s.emitLocked(Event{Type: EventState, State: StateCrashed, PID: inst.pid()})
	}
	s.state = StateStopped
	s.emitLocked(Event{Type: EventExited, State: StateStopped, PID: inst.pid(), Exit: &exit})
	s.emitLocked(Event{Type: EventState, State: StateStopped})
	s.mu.Unlock()

	s.metrics.SetProcessRunning(false)
	fields := []zap.Field{
		zap.Int("pid", inst.pid()),
		zap.Int("code", exit.Code),
		zap.String("signal", exit.Signal),
	}
	if exit.Unexpected {
		s.metrics.RecordProcessExit("crashed")
		s.logger.Error("app-server exited unexpectedly", append(fields, zap.String("stderr_tail", lastLine(exit.Stderr)))...)
		return
	}
	s.metrics.RecordProcessExit("stopped")
	s.logger.Info("app-server stopped", fields...)
}

// Stop terminates the process: stdin is closed, and after the stop timeout
// (or when ctx ends) the process group is killed. It returns once the exit
// has been observed and every pending call has failed, or with ctx's error
// if ctx ends first; the exit is then still reported to subscribers.
func (s *Supervisor) Stop(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateStarting:
			a := s.attempt
			s.mu.Unlock()
			select {
			case <-a.done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		case StateRunning:
			inst := s.inst
			inst.expected = true
			s.state = StateStopping
			s.emitLocked(Event{Type: EventState, State: StateStopping, PID: inst.pid()})
			s.mu.Unlock()
			return s.terminate(ctx, inst)
		case StateStopping:
			inst := s.inst
			s.mu.Unlock()
			select {
			case <-inst.exited:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			s.mu.Unlock()
			return nil
		}
	}
}

func (s *Supervisor) terminate(ctx context.Context, inst *instance) error {
	_ = inst.stdin.Close()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-inst.exited:
		return nil
	case <-timer.C:
		s.logger.Warn("app-server ignored stdin close, killing", zap.Int("pid", inst.pid()))
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.kill(inst)
	select {
	case <-inst.exited:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return err
}

// Close stops the process and the event dispatcher.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.Stop(ctx)
	s.quitOnce.Do(func() { close(s.quit) })
	<-s.deliverDone
	return err
}

// Call forwards a request to the running process. It fails immediately
// with jsonrpc.ErrNotConnected when nothing is running.
func (s *Supervisor) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn := s.conn()
	if conn == nil {
		return nil, jsonrpc.ErrNotConnected
	}
	return conn.CallRaw(ctx, method, params)
}

// Notify sends a notification to the running process.
func (s *Supervisor) Notify(method string, params any) error {
	conn := s.conn()
	if conn == nil {
		return jsonrpc.ErrNotConnected
	}
	return conn.Notify(method, params)
}

func (s *Supervisor) conn() *jsonrpc.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.inst == nil {
		return nil
	}
	return s.inst.conn
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the process.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{State: s.state, LastExit: s.lastExit}
	inst := s.inst
	if inst != nil {
		st.PID = inst.pid()
		st.Binary = inst.binary
		started := inst.startedAt
		st.StartedAt = &started
		st.UserAgent = inst.userAgent
	}
	s.mu.Unlock()

	if inst != nil {
		st.Pending = inst.conn.Pending()
	}
	if s.guard != nil {
		st.Breaker = s.guard.State().String()
		st.StartFailures = s.guard.Counts().ConsecutiveFailures
	}
	return st
}

// Subscribe registers fn for process events. Events are delivered in
// order on a single goroutine; fn must not block for long.
func (s *Supervisor) Subscribe(fn func(Event)) (unsubscribe func()) {
	sid := id.NewSubscriptionID()
	s.subMu.Lock()
	s.subs = append(s.subs, subscriber{id: sid, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == sid {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// emitLocked queues ev; s.mu must be held so queue order matches state order.
func (s *Supervisor) emitLocked(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) deliver() {
	defer close(s.deliverDone)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.quit:
			s.flush()
			return
		}
	}
}

func (s *Supervisor) flush() {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		s.subMu.RLock()
		subs := append([]subscriber(nil), s.subs...)
		s.subMu.RUnlock()

		for _, ev := range batch {
			for _, sub := range subs {
				s.notify(sub.fn, ev)
			}
		}
	}
}

func (s *Supervisor) notify(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("process event subscriber panicked",
				zap.String("type", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(ev)
}
