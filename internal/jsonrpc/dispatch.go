package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
)

// EventType is the logical name of a notification, decoupled from its wire method.
type EventType string

// EventUnknown is reported for wire methods missing from the table.
const EventUnknown EventType = ""

// EventTable statically maps wire method names to logical event types.
type EventTable map[string]EventType

// InboundNotification is a server-initiated notification after classification.
type InboundNotification struct {
	Method string
	Type   EventType
	Params json.RawMessage
}

// InboundRequest is a server-initiated request that must be answered exactly once.
type InboundRequest struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// NotificationHandler receives notifications. Handlers run on the connection's
// event loop in stream order and must not block.
type NotificationHandler func(*InboundNotification)

// RequestHandler receives inbound requests. It may answer synchronously or keep
// the responder and answer later from any goroutine.
type RequestHandler func(*InboundRequest, *Responder)

type subscription struct {
	id uint64
	fn NotificationHandler
}

// Dispatcher routes inbound requests and notifications to registered handlers.
// It outlives individual connections so registrations survive process restarts.
type Dispatcher struct {
	table   EventTable
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	requests map[string]RequestHandler
	all      []subscription
	scoped   map[EventType][]subscription
	nextSub  uint64
}

// NewDispatcher creates a dispatcher using table for event classification.
func NewDispatcher(table EventTable, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		table:    table,
		logger:   logger,
		requests: make(map[string]RequestHandler),
		scoped:   make(map[EventType][]subscription),
	}
}

// WithMetrics attaches a metrics collector
func (d *Dispatcher) WithMetrics(m *monitoring.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// EventTypeOf classifies a wire method. Unknown methods yield EventUnknown, false.
func (d *Dispatcher) EventTypeOf(method string) (EventType, bool) {
	t, ok := d.table[method]
	return t, ok
}

// HandleRequest installs the handler for an inbound request method.
func (d *Dispatcher) HandleRequest(method string, h RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests[method] = h
}

// Subscribe registers a listener for every recognized notification.
func (d *Dispatcher) Subscribe(h NotificationHandler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSub++
	sid := d.nextSub
	d.all = append(d.all, subscription{id: sid, fn: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.all = removeSub(d.all, sid)
	}
}

// SubscribeType registers a listener for one logical event type.
func (d *Dispatcher) SubscribeType(t EventType, h NotificationHandler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSub++
	sid := d.nextSub
	d.scoped[t] = append(d.scoped[t], subscription{id: sid, fn: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.scoped[t] = removeSub(d.scoped[t], sid)
	}
}

func removeSub(subs []subscription, sid uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != sid {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) dispatchNotification(method string, params json.RawMessage) {
	t, ok := d.table[method]
	if !ok {
		d.logger.Debug("dropping unknown notification", zap.String("method", method))
		d.metrics.RecordNotification("unknown")
		return
	}
	d.metrics.RecordNotification(string(t))

	d.mu.RLock()
	targets := make([]NotificationHandler, 0, len(d.all)+len(d.scoped[t]))
	for _, s := range d.all {
		targets = append(targets, s.fn)
	}
	for _, s := range d.scoped[t] {
		targets = append(targets, s.fn)
	}
	d.mu.RUnlock()

	n := &InboundNotification{Method: method, Type: t, Params: params}
	for _, fn := range targets {
		d.safeNotify(fn, n)
	}
}

func (d *Dispatcher) safeNotify(fn NotificationHandler, n *InboundNotification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification handler panicked",
				zap.String("method", n.Method),
				zap.Any("panic", r),
			)
		}
	}()
	fn(n)
}

func (d *Dispatcher) dispatchRequest(req *InboundRequest, r *Responder) {
	d.metrics.RecordInboundRequest(req.Method)

	d.mu.RLock()
	h := d.requests[req.Method]
	d.mu.RUnlock()

	if h == nil {
		d.logger.Warn("unsupported inbound request",
			zap.String("method", req.Method),
			zap.Stringer("id", req.ID),
		)
		_ = r.Fail(NewRemoteError(CodeMethodNotFound, fmt.Sprintf("unsupported method: %s", req.Method)))
		return
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("request handler panicked",
				zap.String("method", req.Method),
				zap.Any("panic", p),
			)
			_ = r.Fail(NewRemoteError(CodeInternalError, "internal error"))
		}
	}()
	h(req, r)
}

// Responder answers one inbound request. Only the first Reply or Fail is sent.
type Responder struct {
	id     ID
	method string
	send   func(Response) error
	done   atomic.Bool
}

func newResponder(id ID, method string, send func(Response) error) *Responder {
	return &Responder{id: id, method: method, send: send}
}

// ID returns the inbound request id being answered.
func (r *Responder) ID() ID { return r.id }

// Method returns the inbound request method.
func (r *Responder) Method() string { return r.method }

// Answered reports whether a reply has been sent.
func (r *Responder) Answered() bool { return r.done.Load() }

// Reply sends a successful result.
func (r *Responder) Reply(result any) error {
	raw, err := marshalParams(result)
	if err != nil {
		return err
	}
	if !r.done.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	return r.send(Response{ID: r.id, Result: raw})
}

// Fail sends an error response.
func (r *Responder) Fail(rerr *RemoteError) error {
	if !r.done.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	return r.send(Response{ID: r.id, Error: rerr})
}

func marshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}
