package tray

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/preferences"
	"github.com/GriffinCanCode/agentshell/internal/shell"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
)

// Source is what the tray watches.
type Source interface {
	OnProcessEvent(fn func(supervisor.Event)) (unsubscribe func())
	OnApprovalRequest(fn func(shell.PendingRequest)) (unsubscribe func())
	OnUserInputRequest(fn func(shell.PendingRequest)) (unsubscribe func())
	PendingRequests() []shell.PendingRequest
}

// Prefs gates which notices are raised. A nil Prefs raises all of them.
type Prefs interface {
	Bool(key string) bool
}

// Notice is something the tray wants the user to look at.
type Notice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
	At        time.Time `json:"at"`
}

// Notice kinds
const (
	NoticeApproval  = "approval"
	NoticeUserInput = "userInput"
	NoticeCrash     = "crash"
)

// Status is what the tray icon shows.
type Status struct {
	State            string               `json:"state"`
	LastExit         *supervisor.ExitInfo `json:"lastExit,omitempty"`
	PendingApprovals int                  `json:"pendingApprovals"`
	PendingInputs    int                  `json:"pendingInputs"`
	Tooltip          string               `json:"tooltip"`
	Notice           *Notice              `json:"notice,omitempty"`
}

// Tray tracks process health and waiting requests for a system tray icon.
type Tray struct {
	src    Source
	prefs  Prefs
	logger *zap.Logger

	mu       sync.Mutex
	state    supervisor.State
	lastExit *supervisor.ExitInfo
	notice   *Notice

	unsubscribe []func()
}

// New starts watching src.
func New(src Source, prefs Prefs, logger *zap.Logger) *Tray {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tray{src: src, prefs: prefs, logger: logger}
	t.unsubscribe = []func(){
		src.OnProcessEvent(t.onProcessEvent),
		src.OnApprovalRequest(t.onRequest),
		src.OnUserInputRequest(t.onRequest),
	}
	return t
}

// Close stops watching.
func (t *Tray) Close() {
	for _, fn := range t.unsubscribe {
		fn()
	}
}

func (t *Tray) enabled(key string) bool {
	return t.prefs == nil || t.prefs.Bool(key)
}

func (t *Tray) onProcessEvent(ev supervisor.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case supervisor.EventState:
		t.state = ev.State
		if ev.State == supervisor.StateRunning && t.notice != nil && t.notice.Kind == NoticeCrash {
			t.notice = nil
		}
	case supervisor.EventExited:
		t.lastExit = ev.Exit
		if ev.Exit != nil && ev.Exit.Unexpected && t.enabled(preferences.KeyNotifyCrash) {
			t.notice = &Notice{Kind: NoticeCrash, Message: describeExit(ev.Exit), At: ev.Time}
			t.logger.Info("tray notice", zap.String("kind", NoticeCrash), zap.String("message", t.notice.Message))
		}
	}
}

func (t *Tray) onRequest(r shell.PendingRequest) {
	if !t.enabled(preferences.KeyNotifyApprovals) {
		return
	}
	n := &Notice{Kind: NoticeApproval, RequestID: r.RequestID, At: r.ReceivedAt}
	switch r.Kind {
	case appserver.KindUserInput:
		n.Kind = NoticeUserInput
		n.Message = "The agent has a question"
	default:
		n.Message = "The agent is waiting for approval (" + r.Method + ")"
	}

	t.mu.Lock()
	t.notice = n
	t.mu.Unlock()
}

// Dismiss clears the current notice.
func (t *Tray) Dismiss() {
	t.mu.Lock()
	t.notice = nil
	t.mu.Unlock()
}

// Status returns the current tray status.
func (t *Tray) Status() Status {
	var approvals, inputs int
	pending := make(map[string]bool)
	for _, r := range t.src.PendingRequests() {
		pending[r.RequestID] = true
		if r.Kind == appserver.KindUserInput {
			inputs++
		} else {
			approvals++
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// a request notice goes away once the request is answered or expired
	if t.notice != nil && t.notice.RequestID != "" && !pending[t.notice.RequestID] {
		t.notice = nil
	}
	st := Status{
		State:            t.state.String(),
		LastExit:         t.lastExit,
		PendingApprovals: approvals,
		PendingInputs:    inputs,
		Notice:           t.notice,
	}
	st.Tooltip = tooltip(t.state, approvals+inputs, t.lastExit)
	return st
}

func tooltip(state supervisor.State, waiting int, lastExit *supervisor.ExitInfo) string {
	var base string
	switch state {
	case supervisor.StateRunning:
		base = "Agent running"
	case supervisor.StateStarting:
		base = "Agent starting"
	case supervisor.StateStopping:
		base = "Agent stopping"
	default:
		base = "Agent stopped"
		if lastExit != nil && lastExit.Unexpected {
			base = "Agent stopped unexpectedly"
		}
	}
	switch waiting {
	case 0:
		return base
	case 1:
		return base + ", 1 request waiting"
	default:
		return fmt.Sprintf("%s, %d requests waiting", base, waiting)
	}
}

func describeExit(e *supervisor.ExitInfo) string {
	if e.Signal != "" {
		return "The agent was terminated (" + e.Signal + ")"
	}
	return fmt.Sprintf("The agent exited with code %d", e.Code)
}
