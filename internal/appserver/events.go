package appserver

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
)

// Logical notification types.
const (
	EventThreadStarted       jsonrpc.EventType = "ThreadStarted"
	EventThreadNameUpdated   jsonrpc.EventType = "ThreadNameUpdated"
	EventThreadTokenUsage    jsonrpc.EventType = "ThreadTokenUsageUpdated"
	EventThreadCompacted     jsonrpc.EventType = "ThreadCompacted"
	EventTurnStarted         jsonrpc.EventType = "TurnStarted"
	EventTurnCompleted       jsonrpc.EventType = "TurnCompleted"
	EventTurnDiffUpdated     jsonrpc.EventType = "TurnDiffUpdated"
	EventTurnPlanUpdated     jsonrpc.EventType = "TurnPlanUpdated"
	EventItemStarted         jsonrpc.EventType = "ItemStarted"
	EventItemCompleted       jsonrpc.EventType = "ItemCompleted"
	EventAgentMessageDelta   jsonrpc.EventType = "AgentMessageDelta"
	EventReasoningDelta      jsonrpc.EventType = "ReasoningDelta"
	EventCommandOutputDelta  jsonrpc.EventType = "CommandOutputDelta"
	EventFileChangeDelta     jsonrpc.EventType = "FileChangeOutputDelta"
	EventMcpToolCallProgress jsonrpc.EventType = "McpToolCallProgress"
	EventAccountUpdated      jsonrpc.EventType = "AccountUpdated"
	EventRateLimitsUpdated   jsonrpc.EventType = "RateLimitsUpdated"
	EventLoginCompleted      jsonrpc.EventType = "LoginCompleted"
	EventMcpOAuthCompleted   jsonrpc.EventType = "McpOAuthLoginCompleted"
	EventDeprecationNotice   jsonrpc.EventType = "DeprecationNotice"
	EventConfigWarning       jsonrpc.EventType = "ConfigWarning"
	EventError               jsonrpc.EventType = "Error"
)

// Events maps wire notification methods to logical types. Methods missing
// here are logged and dropped by the dispatcher.
var Events = jsonrpc.EventTable{
	"thread/started":                    EventThreadStarted,
	"thread/name/updated":               EventThreadNameUpdated,
	"thread/tokenUsage/updated":         EventThreadTokenUsage,
	"thread/compacted":                  EventThreadCompacted,
	"turn/started":                      EventTurnStarted,
	"turn/completed":                    EventTurnCompleted,
	"turn/diff/updated":                 EventTurnDiffUpdated,
	"turn/plan/updated":                 EventTurnPlanUpdated,
	"item/started":                      EventItemStarted,
	"item/completed":                    EventItemCompleted,
	"item/agentMessage/delta":           EventAgentMessageDelta,
	"item/reasoning/textDelta":          EventReasoningDelta,
	"item/reasoning/summaryTextDelta":   EventReasoningDelta,
	"item/commandExecution/outputDelta": EventCommandOutputDelta,
	"item/fileChange/outputDelta":       EventFileChangeDelta,
	"item/mcpToolCall/progress":         EventMcpToolCallProgress,
	"account/updated":                   EventAccountUpdated,
	"account/rateLimits/updated":        EventRateLimitsUpdated,
	"account/login/completed":           EventLoginCompleted,
	"loginChatGptComplete":              EventLoginCompleted,
	"authStatusChange":                  EventAccountUpdated,
	"mcpServer/oauthLogin/completed":    EventMcpOAuthCompleted,
	"deprecationNotice":                 EventDeprecationNotice,
	"configWarning":                     EventConfigWarning,
	"error":                             EventError,
}

// globalEvents concern the whole process rather than one thread.
var globalEvents = map[jsonrpc.EventType]bool{
	EventAccountUpdated:    true,
	EventRateLimitsUpdated: true,
	EventLoginCompleted:    true,
	EventMcpOAuthCompleted: true,
	EventDeprecationNotice: true,
	EventConfigWarning:     true,
}

// IsGlobal reports whether events of type t are broadcast to every surface.
func IsGlobal(t jsonrpc.EventType) bool {
	return globalEvents[t]
}

// RequestKind classifies server-initiated requests that need a human.
type RequestKind string

const (
	KindApproval  RequestKind = "approval"
	KindUserInput RequestKind = "userInput"
)

// InboundRequests lists the server-initiated request methods the shell answers.
var InboundRequests = map[string]RequestKind{
	"item/commandExecution/requestApproval": KindApproval,
	"item/fileChange/requestApproval":       KindApproval,
	"exec/approvalRequest":                  KindApproval,
	"execCommandApproval":                   KindApproval,
	"applyPatchApproval":                    KindApproval,
	"item/tool/requestUserInput":            KindUserInput,
}

// ThreadIDOf extracts the session a payload belongs to. Newer servers send
// threadId, older ones conversationId, and thread lifecycle events nest it
// under thread.id. An empty result means the payload names no session.
func ThreadIDOf(params json.RawMessage) string {
	if len(params) == 0 || params[0] != '{' {
		return ""
	}
	var ref struct {
		ThreadID       string `json:"threadId"`
		ConversationID string `json:"conversationId"`
		Thread         *struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := sonic.Unmarshal(params, &ref); err != nil {
		return ""
	}
	switch {
	case ref.ThreadID != "":
		return ref.ThreadID
	case ref.ConversationID != "":
		return ref.ConversationID
	case ref.Thread != nil:
		return ref.Thread.ID
	}
	return ""
}

func isNullJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
