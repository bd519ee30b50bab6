package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherFanOutAndUnsubscribe(t *testing.T) {
	d := NewDispatcher(testEvents, nil)

	var all, scoped []string
	unsubAll := d.Subscribe(func(n *InboundNotification) { all = append(all, n.Method) })
	unsubScoped := d.SubscribeType("TurnCompleted", func(n *InboundNotification) {
		scoped = append(scoped, string(n.Params))
	})

	d.dispatchNotification("turn/started", json.RawMessage(`{"n":1}`))
	d.dispatchNotification("turn/completed", json.RawMessage(`{"n":2}`))
	d.dispatchNotification("item/unknown", json.RawMessage(`{}`))

	assert.Equal(t, []string{"turn/started", "turn/completed"}, all)
	assert.Equal(t, []string{`{"n":2}`}, scoped)

	unsubAll()
	unsubScoped()
	d.dispatchNotification("turn/completed", json.RawMessage(`{"n":3}`))
	assert.Len(t, all, 2)
	assert.Len(t, scoped, 1)
}

func TestDispatcherPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(testEvents, nil)

	d.Subscribe(func(*InboundNotification) { panic("boom") })
	got := 0
	d.Subscribe(func(*InboundNotification) { got++ })

	require.NotPanics(t, func() {
		d.dispatchNotification("turn/started", nil)
	})
	assert.Equal(t, 1, got)
}

func TestDispatcherRequestHandlerReplacement(t *testing.T) {
	d := NewDispatcher(testEvents, nil)

	var sent []Response
	send := func(r Response) error {
		sent = append(sent, r)
		return nil
	}

	d.HandleRequest("item/tool/call", func(_ *InboundRequest, r *Responder) { _ = r.Reply("first") })
	d.HandleRequest("item/tool/call", func(_ *InboundRequest, r *Responder) { _ = r.Reply("second") })

	req := &InboundRequest{ID: IntID(7), Method: "item/tool/call"}
	d.dispatchRequest(req, newResponder(req.ID, req.Method, send))

	require.Len(t, sent, 1)
	assert.JSONEq(t, `"second"`, string(sent[0].Result))
}

func TestResponderAnswersOnce(t *testing.T) {
	calls := 0
	r := newResponder(IntID(1), "m", func(Response) error {
		calls++
		return nil
	})

	require.NoError(t, r.Reply(map[string]string{"ok": "yes"}))
	assert.True(t, r.Answered())
	assert.ErrorIs(t, r.Reply(nil), ErrAlreadyReplied)
	assert.ErrorIs(t, r.Fail(NewRemoteError(CodeInternalError, "late")), ErrAlreadyReplied)
	assert.Equal(t, 1, calls)
}

func TestMarshalParamsPassThrough(t *testing.T) {
	raw, err := marshalParams(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	in := json.RawMessage(`{"a":1}`)
	raw, err = marshalParams(in)
	require.NoError(t, err)
	assert.Equal(t, in, raw)

	raw, err = marshalParams(map[string]int{"b": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":2}`, string(raw))
}
