package ws

import (
	"encoding/json"

	"github.com/GriffinCanCode/agentshell/internal/api"
	"github.com/GriffinCanCode/agentshell/internal/routing"
)

// Client message types
const (
	TypeCall              = "call"
	TypeAttach            = "attach"
	TypeDetach            = "detach"
	TypeApprovalResponse  = "approval_response"
	TypeUserInputResponse = "user_input_response"
	TypePing              = "ping"
)

// Server message types
const (
	TypeHello  = "hello"
	TypeResult = "result"
	TypeError  = "error"
	TypeEvent  = "event"
	TypePong   = "pong"
	TypeAck    = "ack"
)

// InboundMessage is anything a client sends.
type InboundMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Operation string          `json:"operation,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Decision  string          `json:"decision,omitempty"`
	Answers   map[string]any  `json:"answers,omitempty"`
}

// OutboundMessage is anything the shell sends.
type OutboundMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	SurfaceID string          `json:"surfaceId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *api.Error      `json:"error,omitempty"`
	Event     *routing.Event  `json:"event,omitempty"`
}
