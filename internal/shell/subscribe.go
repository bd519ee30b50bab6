package shell

import (
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
	"github.com/GriffinCanCode/agentshell/internal/routing"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
)

// OnNotification registers fn for every recognized notification.
func (s *Shell) OnNotification(fn func(*jsonrpc.InboundNotification)) (unsubscribe func()) {
	return s.dispatcher.Subscribe(fn)
}

// OnNotificationType registers fn for one logical notification type.
func (s *Shell) OnNotificationType(t jsonrpc.EventType, fn func(*jsonrpc.InboundNotification)) (unsubscribe func()) {
	return s.dispatcher.SubscribeType(t, fn)
}

// OnApprovalRequest registers fn for incoming approval requests.
func (s *Shell) OnApprovalRequest(fn func(PendingRequest)) (unsubscribe func()) {
	return s.addRequestSub(appserver.KindApproval, fn)
}

// OnUserInputRequest registers fn for incoming user-input requests.
func (s *Shell) OnUserInputRequest(fn func(PendingRequest)) (unsubscribe func()) {
	return s.addRequestSub(appserver.KindUserInput, fn)
}

// OnProcessEvent registers fn for app-server lifecycle events.
func (s *Shell) OnProcessEvent(fn func(supervisor.Event)) (unsubscribe func()) {
	return s.proc.Subscribe(fn)
}

func (s *Shell) addRequestSub(kind appserver.RequestKind, fn func(PendingRequest)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	sid := s.nextSub
	list := &s.approvalSubs
	if kind == appserver.KindUserInput {
		list = &s.userInputSubs
	}
	*list = append(*list, requestSub{id: sid, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		out := (*list)[:0:0]
		for _, sub := range *list {
			if sub.id != sid {
				out = append(out, sub)
			}
		}
		*list = out
	}
}

func (s *Shell) requestSubs(kind appserver.RequestKind) []requestSub {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	if kind == appserver.KindUserInput {
		return s.userInputSubs
	}
	return s.approvalSubs
}

func (s *Shell) safeCall(p PendingRequest, fn func(PendingRequest)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request subscriber panicked",
				zap.String("method", p.Method),
				zap.Any("panic", r),
			)
		}
	}()
	fn(p)
}

// forwardNotification delivers a notification to the surface owning its
// session. Process-wide events and events naming no session go to every
// surface.
func (s *Shell) forwardNotification(n *jsonrpc.InboundNotification) {
	ev := routing.Event{
		Kind:      routing.KindNotification,
		Type:      string(n.Type),
		Method:    n.Method,
		Params:    n.Params,
		Timestamp: time.Now(),
	}
	if !appserver.IsGlobal(n.Type) {
		ev.SessionID = appserver.ThreadIDOf(n.Params)
	}

	var err error
	if ev.SessionID == "" {
		_, err = s.router.RouteGlobal(ev)
	} else {
		_, err = s.router.RouteEvent(ev.SessionID, ev)
	}
	if err != nil {
		s.logger.Debug("notification not delivered",
			zap.String("method", n.Method),
			zap.String("session", ev.SessionID),
			zap.Error(err),
		)
	}
}

func (s *Shell) handleProcessEvent(pe supervisor.Event) {
	if pe.Type == supervisor.EventExited && pe.Exit != nil {
		s.expire(pe.Exit.At)
	}

	params, err := sonic.Marshal(pe)
	if err != nil {
		s.logger.Warn("failed to encode process event", zap.Error(err))
		return
	}
	ev := routing.Event{
		Kind:      routing.KindProcess,
		Type:      string(pe.Type),
		Params:    params,
		Timestamp: pe.Time,
	}
	if _, err := s.router.RouteGlobal(ev); err != nil {
		s.logger.Debug("process event not delivered", zap.String("type", string(pe.Type)))
	}
}
