package shell

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/routing"
)

// ExpiredMethod is the event method surfaces receive when a pending
// request can no longer be answered.
const ExpiredMethod = "approval/expired"

// PendingRequest is an inbound request waiting for a human.
type PendingRequest struct {
	RequestID  string                `json:"requestId"`
	Kind       appserver.RequestKind `json:"kind"`
	Method     string                `json:"method"`
	SessionID  string                `json:"sessionId,omitempty"`
	Params     json.RawMessage       `json:"params,omitempty"`
	ReceivedAt time.Time             `json:"receivedAt"`
}

type pendingEntry struct {
	req       PendingRequest
	responder *jsonrpc.Responder
}

type requestSub struct {
	id uint64
	fn func(PendingRequest)
}

// handleInboundRequest runs on the connection loop. It records the request
// and delivers the prompt; the answer comes later through Respond*.
func (s *Shell) handleInboundRequest(req *jsonrpc.InboundRequest, r *jsonrpc.Responder) {
	kind := appserver.InboundRequests[req.Method]
	p := PendingRequest{
		RequestID:  req.ID.Key(),
		Kind:       kind,
		Method:     req.Method,
		SessionID:  appserver.ThreadIDOf(req.Params),
		Params:     req.Params,
		ReceivedAt: time.Now(),
	}

	s.mu.Lock()
	if _, dup := s.pending[p.RequestID]; dup {
		s.logger.Warn("duplicate inbound request id replaces earlier one", zap.String("request_id", p.RequestID))
	}
	s.pending[p.RequestID] = &pendingEntry{req: p, responder: r}
	n := len(s.pending)
	s.mu.Unlock()
	s.metrics.SetApprovalsPending(n)

	evKind := routing.KindApproval
	if kind == appserver.KindUserInput {
		evKind = routing.KindUserInput
	}
	ev := routing.Event{
		Kind:      evKind,
		Method:    p.Method,
		SessionID: p.SessionID,
		RequestID: p.RequestID,
		Params:    p.Params,
		Timestamp: p.ReceivedAt,
	}
	if _, err := s.router.RouteEvent(p.SessionID, ev); err != nil {
		// stays pending; a surface that connects later can list it
		s.logger.Warn("inbound request has no surface yet",
			zap.String("method", p.Method),
			zap.String("request_id", p.RequestID),
			zap.Error(err),
		)
	}

	subs := s.requestSubs(kind)
	for _, sub := range subs {
		s.safeCall(p, sub.fn)
	}
}

// PendingRequests lists unanswered inbound requests, oldest first.
func (s *Shell) PendingRequests() []PendingRequest {
	s.mu.Lock()
	out := make([]PendingRequest, 0, len(s.pending))
	for _, e := range s.pending {
		out = append(out, e.req)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// RespondApproval answers a pending approval request. The reply goes
// straight back on the connection the request arrived on.
func (s *Shell) RespondApproval(requestID string, decision appserver.ApprovalDecision) error {
	if !decision.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	e, err := s.take(requestID, appserver.KindApproval)
	if err != nil {
		return err
	}
	return s.reply(e, appserver.ApprovalReply(e.req.Method, decision))
}

// RespondUserInput answers a pending user-input request.
func (s *Shell) RespondUserInput(requestID string, answers map[string]any) error {
	e, err := s.take(requestID, appserver.KindUserInput)
	if err != nil {
		return err
	}
	return s.reply(e, appserver.UserInputReply(answers))
}

func (s *Shell) take(requestID string, kind appserver.RequestKind) (*pendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if e.req.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrRequestKind, requestID, e.req.Kind, kind)
	}
	delete(s.pending, requestID)
	s.metrics.SetApprovalsPending(len(s.pending))
	return e, nil
}

func (s *Shell) reply(e *pendingEntry, result any) error {
	if err := e.responder.Reply(result); err != nil {
		return fmt.Errorf("reply to %s %s: %w", e.req.Method, e.req.RequestID, err)
	}
	s.logger.Debug("answered inbound request",
		zap.String("method", e.req.Method),
		zap.String("request_id", e.req.RequestID),
	)
	return nil
}

// expire drops requests received before the process exit at cutoff and
// tells every surface they are gone.
func (s *Shell) expire(cutoff time.Time) {
	var gone []PendingRequest
	s.mu.Lock()
	for rid, e := range s.pending {
		if e.req.ReceivedAt.After(cutoff) {
			continue
		}
		gone = append(gone, e.req)
		delete(s.pending, rid)
	}
	n := len(s.pending)
	s.mu.Unlock()
	if len(gone) == 0 {
		return
	}
	s.metrics.SetApprovalsPending(n)

	for _, p := range gone {
		ev := routing.Event{
			Kind:      routing.KindApprovalExpired,
			Method:    ExpiredMethod,
			SessionID: p.SessionID,
			RequestID: p.RequestID,
			Timestamp: time.Now(),
		}
		if _, err := s.router.RouteGlobal(ev); err != nil {
			s.logger.Debug("no surface for expired request", zap.String("request_id", p.RequestID))
		}
	}
	s.logger.Info("expired pending requests after process exit", zap.Int("count", len(gone)))
}
