package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/routing"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
)

type fakeProcess struct {
	conn *jsonrpc.Conn

	mu   sync.Mutex
	subs []func(supervisor.Event)
}

func (f *fakeProcess) Start(context.Context) error { return nil }
func (f *fakeProcess) Stop(context.Context) error  { return nil }

func (f *fakeProcess) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f.conn.CallRaw(ctx, method, params)
}

func (f *fakeProcess) Status() supervisor.Status {
	return supervisor.Status{State: supervisor.StateRunning}
}

func (f *fakeProcess) Subscribe(fn func(supervisor.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeProcess) emit(ev supervisor.Event) {
	f.mu.Lock()
	subs := append(([]func(supervisor.Event))(nil), f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// peer plays the app-server end of the connection.
type peer struct {
	t     *testing.T
	w     io.Writer
	lines chan *jsonrpc.Message
}

func (p *peer) send(line string) {
	p.t.Helper()
	_, err := io.WriteString(p.w, line+"\n")
	require.NoError(p.t, err)
}

func (p *peer) next() *jsonrpc.Message {
	p.t.Helper()
	select {
	case m := <-p.lines:
		return m
	case <-time.After(5 * time.Second):
		p.t.Fatal("peer received nothing")
		return nil
	}
}

func (p *peer) expectSilence() {
	p.t.Helper()
	select {
	case m := <-p.lines:
		p.t.Fatalf("unexpected message to peer: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

type chanSurface struct {
	id string
	ch chan routing.Event
}

func newSurface(id string) *chanSurface {
	return &chanSurface{id: id, ch: make(chan routing.Event, 16)}
}

func (c *chanSurface) ID() string  { return c.id }
func (c *chanSurface) Alive() bool { return true }
func (c *chanSurface) Deliver(ev routing.Event) error {
	select {
	case c.ch <- ev:
		return nil
	default:
		return errors.New("surface queue full")
	}
}

func (c *chanSurface) next(t *testing.T) routing.Event {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("surface %s received nothing", c.id)
		return routing.Event{}
	}
}

func (c *chanSurface) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("surface %s got unexpected %+v", c.id, ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func newHarness(t *testing.T) (*Shell, *peer, *fakeProcess) {
	t.Helper()
	shellR, peerW := io.Pipe()
	peerR, shellW := io.Pipe()

	d := jsonrpc.NewDispatcher(appserver.Events, nil)
	conn := jsonrpc.NewConn(shellR, shellW, d)
	proc := &fakeProcess{conn: conn}
	sh := New(d, proc)

	p := &peer{t: t, w: peerW, lines: make(chan *jsonrpc.Message, 16)}
	go func() {
		sc := bufio.NewScanner(peerR)
		for sc.Scan() {
			m, err := jsonrpc.DecodeLine(sc.Bytes())
			if err == nil {
				p.lines <- m
			}
		}
	}()

	t.Cleanup(func() {
		sh.Close()
		conn.CancelAll(nil)
		peerW.Close()
		peerR.Close()
	})
	return sh, p, proc
}

func TestApprovalRoundTrip(t *testing.T) {
	sh, p, _ := newHarness(t)
	w := newSurface("w1")
	require.NoError(t, sh.Router().Associate("S", w))

	seen := make(chan PendingRequest, 1)
	sh.OnApprovalRequest(func(r PendingRequest) { seen <- r })

	p.send(`{"id":7,"method":"exec/approvalRequest","params":{"conversationId":"S","command":["rm","-rf","build"]}}`)

	ev := w.next(t)
	assert.Equal(t, routing.KindApproval, ev.Kind)
	assert.Equal(t, "7", ev.RequestID)
	assert.Equal(t, "S", ev.SessionID)
	assert.Equal(t, "exec/approvalRequest", ev.Method)

	select {
	case r := <-seen:
		assert.Equal(t, appserver.KindApproval, r.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("approval subscriber not called")
	}
	require.Len(t, sh.PendingRequests(), 1)

	// no reply until the human decides
	p.expectSilence()

	require.NoError(t, sh.RespondApproval("7", appserver.DecisionAccept))
	resp := p.next()
	n, ok := resp.ID.Int()
	require.True(t, ok)
	assert.Equal(t, int64(7), n)
	assert.JSONEq(t, `{"decision":"approved"}`, string(resp.Result))

	assert.ErrorIs(t, sh.RespondApproval("7", appserver.DecisionDecline), ErrUnknownRequest)
	p.expectSilence()
	assert.Empty(t, sh.PendingRequests())
}

func TestModernApprovalKeepsDecisionSpelling(t *testing.T) {
	sh, p, _ := newHarness(t)
	p.send(`{"id":3,"method":"item/fileChange/requestApproval","params":{"threadId":"T","itemId":"i"}}`)
	require.Eventually(t, func() bool { return len(sh.PendingRequests()) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sh.RespondApproval("3", appserver.DecisionAcceptForSession))
	assert.JSONEq(t, `{"decision":"acceptForSession"}`, string(p.next().Result))
}

func TestUserInputWithStringID(t *testing.T) {
	sh, p, _ := newHarness(t)

	p.send(`{"id":"req-1","method":"item/tool/requestUserInput","params":{"threadId":"S","questions":[{"id":"q1"}]}}`)
	require.Eventually(t, func() bool { return len(sh.PendingRequests()) == 1 }, 5*time.Second, 10*time.Millisecond)

	pending := sh.PendingRequests()[0]
	assert.Equal(t, appserver.KindUserInput, pending.Kind)
	assert.Equal(t, "S", pending.SessionID)

	assert.Equal(t, `"req-1"`, pending.RequestID)

	assert.ErrorIs(t, sh.RespondApproval(`"req-1"`, appserver.DecisionAccept), ErrRequestKind)
	assert.ErrorIs(t, sh.RespondUserInput("req-1", nil), ErrUnknownRequest, "string ids are answered by their quoted form")
	require.NoError(t, sh.RespondUserInput(`"req-1"`, map[string]any{"q1": "yes"}))

	resp := p.next()
	assert.True(t, resp.ID.IsString())
	assert.Equal(t, "req-1", resp.ID.String())
	assert.JSONEq(t, `{"answers":{"q1":"yes"}}`, string(resp.Result))
}

func TestNumericAndStringIDsArePendingSeparately(t *testing.T) {
	sh, p, _ := newHarness(t)

	p.send(`{"id":7,"method":"item/commandExecution/requestApproval","params":{"threadId":"S"}}`)
	p.send(`{"id":"7","method":"item/fileChange/requestApproval","params":{"threadId":"S"}}`)
	p.send(`{"id":"a/b","method":"item/tool/requestUserInput","params":{"threadId":"S"}}`)
	require.Eventually(t, func() bool { return len(sh.PendingRequests()) == 3 }, 5*time.Second, 10*time.Millisecond)

	byID := map[string]string{}
	for _, r := range sh.PendingRequests() {
		byID[r.RequestID] = r.Method
	}
	assert.Equal(t, map[string]string{
		`7`:     "item/commandExecution/requestApproval",
		`"7"`:   "item/fileChange/requestApproval",
		`"a/b"`: "item/tool/requestUserInput",
	}, byID)

	tests := []struct {
		requestID string
		answer    func(string) error
		isString  bool
		want      string
	}{
		{`"7"`, func(id string) error { return sh.RespondApproval(id, appserver.DecisionDecline) }, true, "7"},
		{`7`, func(id string) error { return sh.RespondApproval(id, appserver.DecisionAccept) }, false, "7"},
		{`"a/b"`, func(id string) error { return sh.RespondUserInput(id, map[string]any{}) }, true, "a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.requestID, func(t *testing.T) {
			require.NoError(t, tt.answer(tt.requestID))
			resp := p.next()
			assert.Equal(t, tt.isString, resp.ID.IsString())
			assert.Equal(t, tt.want, resp.ID.String())
		})
	}
	assert.Empty(t, sh.PendingRequests())
}

func TestInvalidDecision(t *testing.T) {
	sh, p, _ := newHarness(t)
	p.send(`{"id":1,"method":"execCommandApproval","params":{}}`)
	require.Eventually(t, func() bool { return len(sh.PendingRequests()) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, sh.RespondApproval("1", "maybe"), ErrInvalidDecision)
	assert.Len(t, sh.PendingRequests(), 1, "a rejected answer leaves the request pending")
}

func TestProcessExitExpiresPending(t *testing.T) {
	sh, p, proc := newHarness(t)
	w1, w2 := newSurface("w1"), newSurface("w2")
	require.NoError(t, sh.Router().Associate("S", w1))
	require.NoError(t, sh.Router().Register(w2))

	p.send(`{"id":9,"method":"item/commandExecution/requestApproval","params":{"threadId":"S"}}`)
	assert.Equal(t, routing.KindApproval, w1.next(t).Kind)
	w2.expectNothing(t)

	proc.emit(supervisor.Event{
		Type:  supervisor.EventExited,
		State: supervisor.StateStopped,
		Exit:  &supervisor.ExitInfo{Code: 1, Unexpected: true, At: time.Now()},
		Time:  time.Now(),
	})

	for _, w := range []*chanSurface{w1, w2} {
		expired := w.next(t)
		assert.Equal(t, routing.KindApprovalExpired, expired.Kind)
		assert.Equal(t, ExpiredMethod, expired.Method)
		assert.Equal(t, "9", expired.RequestID)

		process := w.next(t)
		assert.Equal(t, routing.KindProcess, process.Kind)
		assert.Equal(t, string(supervisor.EventExited), process.Type)
		assert.Contains(t, string(process.Params), `"unexpected":true`)
	}

	assert.Empty(t, sh.PendingRequests())
	assert.ErrorIs(t, sh.RespondApproval("9", appserver.DecisionAccept), ErrUnknownRequest)
}

func TestExpiryKeepsRequestsFromNewerProcess(t *testing.T) {
	sh, p, proc := newHarness(t)
	exitAt := time.Now()
	time.Sleep(5 * time.Millisecond)

	p.send(`{"id":11,"method":"execCommandApproval","params":{}}`)
	require.Eventually(t, func() bool { return len(sh.PendingRequests()) == 1 }, 5*time.Second, 10*time.Millisecond)

	proc.emit(supervisor.Event{Type: supervisor.EventExited, Exit: &supervisor.ExitInfo{At: exitAt}, Time: time.Now()})
	assert.Len(t, sh.PendingRequests(), 1)
}

func TestNotificationRouting(t *testing.T) {
	sh, p, _ := newHarness(t)
	w1, w2 := newSurface("w1"), newSurface("w2")
	require.NoError(t, sh.Router().Associate("S", w1))
	require.NoError(t, sh.Router().Register(w2))

	p.send(`{"method":"turn/completed","params":{"threadId":"S","turn":{"id":"t1"}}}`)
	ev := w1.next(t)
	assert.Equal(t, routing.KindNotification, ev.Kind)
	assert.Equal(t, string(appserver.EventTurnCompleted), ev.Type)
	assert.Equal(t, "S", ev.SessionID)
	w2.expectNothing(t)

	// unknown methods are dropped, global ones reach everyone
	p.send(`{"method":"future/feature","params":{"threadId":"S"}}`)
	p.send(`{"method":"account/updated","params":{"threadId":"S","authMode":"chatgpt"}}`)
	for _, w := range []*chanSurface{w1, w2} {
		ev := w.next(t)
		assert.Equal(t, "account/updated", ev.Method)
		assert.Empty(t, ev.SessionID)
	}

	// a session nobody owns falls back to broadcast
	p.send(`{"method":"turn/started","params":{"threadId":"other"}}`)
	assert.Equal(t, "turn/started", w1.next(t).Method)
	assert.Equal(t, "turn/started", w2.next(t).Method)

	// no session at all is broadcast too
	p.send(`{"method":"error","params":{"message":"stream disconnected"}}`)
	assert.Equal(t, "error", w1.next(t).Method)
	assert.Equal(t, "error", w2.next(t).Method)
}

func TestOnNotificationSubscriptions(t *testing.T) {
	sh, p, _ := newHarness(t)

	all := make(chan string, 8)
	scoped := make(chan string, 8)
	unsubAll := sh.OnNotification(func(n *jsonrpc.InboundNotification) { all <- n.Method })
	sh.OnNotificationType(appserver.EventTurnCompleted, func(n *jsonrpc.InboundNotification) { scoped <- n.Method })

	p.send(`{"method":"turn/started","params":{"threadId":"S"}}`)
	p.send(`{"method":"turn/completed","params":{"threadId":"S"}}`)

	assert.Equal(t, "turn/started", <-all)
	assert.Equal(t, "turn/completed", <-all)
	assert.Equal(t, "turn/completed", <-scoped)

	unsubAll()
	p.send(`{"method":"turn/completed","params":{"threadId":"S"}}`)
	assert.Equal(t, "turn/completed", <-scoped)
	select {
	case m := <-all:
		t.Fatalf("unsubscribed listener got %s", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInvokeAssociatesStartedThread(t *testing.T) {
	sh, p, _ := newHarness(t)
	w := newSurface("w1")
	require.NoError(t, sh.Router().Register(w))

	type outcome struct {
		raw json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		raw, err := sh.Invoke(context.Background(), w, appserver.OpThreadStart, map[string]string{"cwd": "/tmp"})
		done <- outcome{raw, err}
	}()

	req := p.next()
	assert.Equal(t, "thread/start", req.Method)
	assert.JSONEq(t, `{"cwd":"/tmp"}`, string(req.Params))
	id, _ := req.ID.Int()
	p.send(`{"id":` + jsonInt(id) + `,"result":{"thread":{"id":"abc"}}}`)

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"thread":{"id":"abc"}}`, string(out.raw))

	owner, ok := sh.Router().SurfaceFor("abc")
	require.True(t, ok)
	assert.Equal(t, "w1", owner)
}

func TestInvokeWithoutSessionDoesNotAssociate(t *testing.T) {
	sh, p, _ := newHarness(t)
	w := newSurface("w1")

	done := make(chan error, 1)
	go func() {
		_, err := sh.Invoke(context.Background(), w, appserver.OpModelList, nil)
		done <- err
	}()
	req := p.next()
	id, _ := req.ID.Int()
	p.send(`{"id":` + jsonInt(id) + `,"result":{"data":[{"id":"gpt-5","threadId":"x"}]}}`)
	require.NoError(t, <-done)
	assert.Equal(t, 0, sh.Router().Len())
}

func TestInvokeRemoteError(t *testing.T) {
	sh, p, _ := newHarness(t)

	done := make(chan error, 1)
	go func() {
		_, err := sh.Invoke(context.Background(), nil, appserver.OpTurnStart, map[string]any{"threadId": "S"})
		done <- err
	}()
	req := p.next()
	id, _ := req.ID.Int()
	p.send(`{"id":` + jsonInt(id) + `,"error":{"code":-32602,"message":"invalid params: input is required"}}`)

	err := <-done
	var remote *jsonrpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, jsonrpc.CodeInvalidParams, remote.Code)
	p.expectSilence()
}

func TestRequestSubscriberPanicIsContained(t *testing.T) {
	sh, p, _ := newHarness(t)
	sh.OnUserInputRequest(func(PendingRequest) { panic("tray bug") })
	got := make(chan string, 1)
	unsub := sh.OnUserInputRequest(func(r PendingRequest) { got <- r.RequestID })

	p.send(`{"id":4,"method":"item/tool/requestUserInput","params":{}}`)
	select {
	case rid := <-got:
		assert.Equal(t, "4", rid)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber after the panicking one not called")
	}
	unsub()
	require.NoError(t, sh.RespondUserInput("4", nil))
	assert.JSONEq(t, `{"answers":{}}`, string(p.next().Result))
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
