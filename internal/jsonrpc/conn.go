package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
)

// Option configures a Conn
type Option func(*Conn)

// WithLogger sets the connection logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithMaxLineSize bounds inbound record size
func WithMaxLineSize(n int) Option {
	return func(c *Conn) { c.maxLine = n }
}

// WithEOFHandler replaces the default behavior on read-side end of stream.
// The default cancels every pending call with a transport-closed error.
// A replacement is responsible for eventually calling CancelAll.
func WithEOFHandler(fn func(readErr error)) Option {
	return func(c *Conn) { c.onEOF = fn }
}

type outcome struct {
	result json.RawMessage
	err    error
}

type frame struct {
	v       any
	written chan error
}

type pendingCall struct {
	method  string
	started time.Time
	done    chan outcome
}

// Conn correlates outgoing calls with responses over a line-framed stream and
// hands inbound traffic to a Dispatcher.
//
// The pending table and id counter are owned by a single loop goroutine.
// Every mutation is an op submitted to that loop; reads from the peer arrive
// on a channel fed by a separate reader goroutine. Writes are queued to a
// writer goroutine, so a slow peer never stalls response handling. Requests
// are queued by the loop itself, which keeps ids in wire order.
type Conn struct {
	r          io.Reader
	enc        *Encoder
	dispatcher *Dispatcher
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	maxLine    int
	onEOF      func(error)

	ops      chan func()
	inbound  chan *Message
	loopDone chan struct{}
	readErr  error

	// owned by loop
	nextID  int64
	pending map[int64]*pendingCall
	closed  bool
	reason  error

	closedFlag atomic.Bool

	outMu     sync.Mutex
	outbox    []frame
	outClosed bool
	outWake   chan struct{}
}

// NewConn starts serving a connection reading from r and writing to w.
func NewConn(r io.Reader, w io.Writer, d *Dispatcher, opts ...Option) *Conn {
	c := &Conn{
		r:          r,
		enc:        NewEncoder(w),
		dispatcher: d,
		logger:     zap.NewNop(),
		maxLine:    DefaultMaxLineSize,
		ops:        make(chan func()),
		inbound:    make(chan *Message, 64),
		loopDone:   make(chan struct{}),
		pending:    make(map[int64]*pendingCall),
		outWake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher(nil, c.logger)
	}
	if c.onEOF == nil {
		c.onEOF = func(err error) {
			if err == nil {
				err = io.EOF
			}
			c.CancelAll(&TransportClosedError{Reason: err})
		}
	}

	go c.loop()
	go c.read()
	go c.write()
	return c
}

// enqueue hands v to the writer. The returned channel receives the write
// result exactly once.
func (c *Conn) enqueue(v any) <-chan error {
	written := make(chan error, 1)
	c.outMu.Lock()
	if c.outClosed {
		c.outMu.Unlock()
		written <- ErrNotConnected
		return written
	}
	c.outbox = append(c.outbox, frame{v: v, written: written})
	c.outMu.Unlock()

	select {
	case c.outWake <- struct{}{}:
	default:
	}
	return written
}

func (c *Conn) write() {
	for {
		select {
		case <-c.outWake:
			c.flush()
		case <-c.loopDone:
			c.outMu.Lock()
			c.outClosed = true
			rest := c.outbox
			c.outbox = nil
			c.outMu.Unlock()
			for _, f := range rest {
				f.written <- ErrNotConnected
			}
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		c.outMu.Lock()
		batch := c.outbox
		c.outbox = nil
		c.outMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, f := range batch {
			f.written <- c.enc.Encode(f.v)
		}
	}
}

func (c *Conn) read() {
	dec := NewDecoder(func(e *MalformedLineError) {
		c.metrics.RecordMalformedLine()
		c.logger.Warn("skipping malformed line", zap.Error(e))
	})
	dec.SetMaxLineSize(c.maxLine)

	err := dec.ReadFrom(c.r, func(msg *Message) {
		select {
		case c.inbound <- msg:
		case <-c.loopDone:
			// Keep draining so the peer never blocks on a full pipe.
		}
	})
	c.readErr = err
	close(c.inbound)
}

func (c *Conn) loop() {
	defer close(c.loopDone)
	inbound := c.inbound
	for {
		select {
		case op := <-c.ops:
			op()
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				c.logger.Debug("app-server stream ended", zap.Error(c.readErr))
				go c.onEOF(c.readErr)
				continue
			}
			c.handle(msg)
		}
		if c.closed {
			return
		}
	}
}

func (c *Conn) handle(msg *Message) {
	switch msg.Kind() {
	case KindResponse:
		c.resolve(msg)
	case KindRequest:
		req := &InboundRequest{ID: *msg.ID, Method: msg.Method, Params: msg.Params}
		c.dispatcher.dispatchRequest(req, newResponder(req.ID, req.Method, c.sendResponse))
	case KindNotification:
		c.dispatcher.dispatchNotification(msg.Method, msg.Params)
	}
}

func (c *Conn) resolve(msg *Message) {
	n, ok := msg.ID.Int()
	var p *pendingCall
	if ok {
		p = c.pending[n]
	}
	if p == nil {
		c.logger.Warn("response for unknown request id", zap.Stringer("id", *msg.ID))
		return
	}
	delete(c.pending, n)
	c.metrics.SetRPCPending(len(c.pending))

	status := "ok"
	out := outcome{result: msg.Result}
	if msg.Error != nil {
		status = "error"
		out = outcome{err: msg.Error}
	}
	c.metrics.RecordRPCCall(p.method, status, time.Since(p.started))
	p.done <- out
}

// submit runs fn on the loop goroutine and returns its error.
func (c *Conn) submit(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.ops <- func() { errc <- fn() }:
	case <-c.loopDone:
		return ErrNotConnected
	}
	return <-errc
}

// Call sends a request and waits for its response, decoding the result into
// result when it is non-nil. A cancelled ctx abandons the wait; the pending
// entry stays until its response arrives or the connection is torn down.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	raw, err := c.CallRaw(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	return codec.Unmarshal(raw, result)
}

// CallRaw is Call without result decoding.
func (c *Conn) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	done := make(chan outcome, 1)
	var (
		id      int64
		written <-chan error
	)
	err = c.submit(func() error {
		c.nextID++
		id = c.nextID
		c.pending[id] = &pendingCall{method: method, started: time.Now(), done: done}
		c.metrics.SetRPCPending(len(c.pending))
		written = c.enqueue(Request{ID: IntID(id), Method: method, Params: body})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for {
		select {
		case werr := <-written:
			written = nil
			if werr != nil {
				c.logger.Warn("write failed", zap.String("method", method), zap.Error(werr))
				c.failPending(id, werr)
			}
		case out := <-done:
			return out.result, out.err
		case <-ctx.Done():
			c.metrics.RecordRPCCall(method, "abandoned", 0)
			return nil, ctx.Err()
		}
	}
}

func (c *Conn) failPending(id int64, werr error) {
	_ = c.submit(func() error {
		if p, ok := c.pending[id]; ok {
			delete(c.pending, id)
			c.metrics.SetRPCPending(len(c.pending))
			p.done <- outcome{err: &TransportClosedError{Reason: werr}}
		}
		return nil
	})
}

// Notify sends a notification to the peer.
func (c *Conn) Notify(method string, params any) error {
	if c.closedFlag.Load() {
		return ErrNotConnected
	}
	body, err := marshalParams(params)
	if err != nil {
		return err
	}
	return <-c.enqueue(Notification{Method: method, Params: body})
}

func (c *Conn) sendResponse(resp Response) error {
	if c.closedFlag.Load() {
		return ErrNotConnected
	}
	return <-c.enqueue(resp.wire())
}

// CancelAll fails every pending call with reason and stops the connection.
// Later calls fail with ErrNotConnected. Only the first invocation has effect.
func (c *Conn) CancelAll(reason error) {
	_ = c.submit(func() error {
		c.cancelAll(reason)
		return nil
	})
	<-c.loopDone
}

func (c *Conn) cancelAll(reason error) {
	if c.closed {
		return
	}
	if reason == nil || !errors.Is(reason, ErrTransportClosed) {
		reason = &TransportClosedError{Reason: reason}
	}
	c.closed = true
	c.closedFlag.Store(true)
	c.reason = reason

	for id, p := range c.pending {
		delete(c.pending, id)
		c.metrics.RecordRPCCall(p.method, "cancelled", time.Since(p.started))
		p.done <- outcome{err: reason}
	}
	c.metrics.SetRPCPending(0)
	c.logger.Debug("connection closed", zap.Error(reason))
}

// Pending returns the number of calls awaiting a response.
func (c *Conn) Pending() int {
	var n int
	if err := c.submit(func() error { n = len(c.pending); return nil }); err != nil {
		return 0
	}
	return n
}

// Done is closed once CancelAll has run.
func (c *Conn) Done() <-chan struct{} { return c.loopDone }

// Err returns the reason passed to CancelAll, or nil while the connection is live.
func (c *Conn) Err() error {
	select {
	case <-c.loopDone:
		return c.reason
	default:
		return nil
	}
}

// Closed reports whether the connection has been cancelled.
func (c *Conn) Closed() bool { return c.closedFlag.Load() }
