package shell

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/agentshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/routing"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
)

var (
	// ErrUnknownRequest is returned when replying to an inbound request that
	// is not pending, either because it was already answered or because the
	// process that sent it is gone.
	ErrUnknownRequest = errors.New("unknown or already answered request")

	// ErrRequestKind is returned when replying to a request with the wrong kind of answer.
	ErrRequestKind = errors.New("request is of a different kind")

	// ErrInvalidDecision is returned for an approval decision the server does not understand.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// Process is the app-server lifecycle the shell drives.
type Process interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Status() supervisor.Status
	Subscribe(fn func(supervisor.Event)) (unsubscribe func())
}

// Option configures a Shell
type Option func(*Shell)

// WithLogger sets the shell logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Shell) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Shell) { s.metrics = m }
}

// WithTracer traces every facade operation
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Shell) { s.tracer = t }
}

// Shell ties the app-server process to UI surfaces. It forwards
// notifications to the surface owning their session, holds approval and
// user-input requests until a surface answers them, and broadcasts process
// lifecycle changes.
type Shell struct {
	dispatcher *jsonrpc.Dispatcher
	proc       Process
	client     *appserver.Client
	router     *routing.Router
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer

	mu      sync.Mutex
	pending map[string]*pendingEntry

	subMu         sync.RWMutex
	nextSub       uint64
	approvalSubs  []requestSub
	userInputSubs []requestSub

	unsubscribe []func()
}

// New wires a shell around proc. d must be the dispatcher proc hands
// inbound traffic to.
func New(d *jsonrpc.Dispatcher, proc Process, opts ...Option) *Shell {
	s := &Shell{
		dispatcher: d,
		proc:       proc,
		logger:     zap.NewNop(),
		pending:    make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.client = appserver.NewClient(proc,
		appserver.WithLogger(s.logger.Named("appserver")),
		appserver.WithTracer(s.tracer),
	)
	s.router = routing.NewRouter(
		routing.WithLogger(s.logger.Named("routing")),
		routing.WithMetrics(s.metrics),
	)

	for method := range appserver.InboundRequests {
		d.HandleRequest(method, s.handleInboundRequest)
	}
	s.unsubscribe = append(s.unsubscribe,
		d.Subscribe(s.forwardNotification),
		proc.Subscribe(s.handleProcessEvent),
	)
	return s
}

// Router returns the session-to-surface router.
func (s *Shell) Router() *routing.Router { return s.router }

// Client returns the typed facade.
func (s *Shell) Client() *appserver.Client { return s.client }

// Start launches the app-server if it is not running.
func (s *Shell) Start(ctx context.Context) error { return s.proc.Start(ctx) }

// Stop terminates the app-server.
func (s *Shell) Stop(ctx context.Context) error { return s.proc.Stop(ctx) }

// Status reports the app-server process.
func (s *Shell) Status() supervisor.Status { return s.proc.Status() }

// Close detaches from the process and stops the router. The process itself
// is left to its owner.
func (s *Shell) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.router.Close()
}

// Invoke runs op with params. When op opens a session and from is not
// nil, the returned thread is associated with from so its events are
// delivered there.
func (s *Shell) Invoke(ctx context.Context, from routing.Surface, op appserver.Operation, params any) (json.RawMessage, error) {
	result, err := s.client.Invoke(ctx, op, params)
	if err != nil {
		return nil, err
	}
	if from != nil && op.StartsSession() {
		if threadID := appserver.ThreadIDOf(result); threadID != "" {
			if err := s.router.Associate(threadID, from); err != nil {
				s.logger.Warn("failed to associate session", zap.String("session", threadID), zap.Error(err))
			}
		}
	}
	return result, nil
}
