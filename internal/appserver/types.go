package appserver

import "encoding/json"

// ClientInfo identifies the shell in the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// InitializeParams is sent as the first request on every connection.
type InitializeParams struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

// InitializeResult carries the server identity.
type InitializeResult struct {
	UserAgent  string          `json:"userAgent,omitempty"`
	ServerInfo json.RawMessage `json:"serverInfo,omitempty"`
}

// Thread is the subset of thread metadata the shell inspects.
type Thread struct {
	ID            string `json:"id"`
	Preview       string `json:"preview,omitempty"`
	Name          string `json:"name,omitempty"`
	ModelProvider string `json:"modelProvider,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	Path          string `json:"path,omitempty"`
}

// ThreadStartParams starts a new thread.
type ThreadStartParams struct {
	Model                 string         `json:"model,omitempty"`
	Cwd                   string         `json:"cwd,omitempty"`
	ApprovalPolicy        string         `json:"approvalPolicy,omitempty"`
	Sandbox               string         `json:"sandbox,omitempty"`
	Config                map[string]any `json:"config,omitempty"`
	BaseInstructions      string         `json:"baseInstructions,omitempty"`
	DeveloperInstructions string         `json:"developerInstructions,omitempty"`
}

// ThreadResumeParams reopens an existing thread, optionally overriding settings.
type ThreadResumeParams struct {
	ThreadID       string `json:"threadId"`
	Model          string `json:"model,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	Sandbox        string `json:"sandbox,omitempty"`
}

// ThreadRef names a thread.
type ThreadRef struct {
	ThreadID string `json:"threadId"`
}

// ThreadResult is returned by start, resume, fork, read and rollback.
type ThreadResult struct {
	Thread Thread `json:"thread"`
	Model  string `json:"model,omitempty"`
}

// ThreadListParams pages through stored threads.
type ThreadListParams struct {
	Cursor   string `json:"cursor,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Archived bool   `json:"archived,omitempty"`
}

// ThreadListResult is one page of threads.
type ThreadListResult struct {
	Data       []Thread `json:"data"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// ThreadSetNameParams renames a thread.
type ThreadSetNameParams struct {
	ThreadID string `json:"threadId"`
	Name     string `json:"name"`
}

// ThreadRollbackParams drops the last NumTurns turns.
type ThreadRollbackParams struct {
	ThreadID string `json:"threadId"`
	NumTurns int    `json:"numTurns"`
}

// UserInput is one piece of turn input.
type UserInput struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// TextInput is the common single-text input.
func TextInput(text string) []UserInput {
	return []UserInput{{Type: "text", Text: text}}
}

// TurnStartParams sends user input into a thread.
type TurnStartParams struct {
	ThreadID string      `json:"threadId"`
	Input    []UserInput `json:"input"`
	Cwd      string      `json:"cwd,omitempty"`
	Model    string      `json:"model,omitempty"`
	Effort   string      `json:"effort,omitempty"`
}

// Turn is the subset of turn metadata the shell inspects.
type Turn struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// TurnStartResult names the turn that started.
type TurnStartResult struct {
	Turn Turn `json:"turn"`
}

// TurnInterruptParams stops an in-progress turn.
type TurnInterruptParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
}

// ReviewStartParams starts a code review turn.
type ReviewStartParams struct {
	ThreadID string          `json:"threadId"`
	Target   json.RawMessage `json:"target"`
	Delivery string          `json:"delivery,omitempty"`
}

// ReviewStartResult names the review turn.
type ReviewStartResult struct {
	Turn           Turn   `json:"turn"`
	ReviewThreadID string `json:"reviewThreadId,omitempty"`
}

// PageParams is the cursor pagination shared by list operations.
type PageParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Page is a generic list result.
type Page struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// ConfigEdit is one key-path assignment.
type ConfigEdit struct {
	KeyPath       string `json:"keyPath"`
	Value         any    `json:"value"`
	MergeStrategy string `json:"mergeStrategy"`
}

// ConfigWriteParams writes a single config value.
type ConfigWriteParams struct {
	ConfigEdit
	FilePath        string `json:"filePath,omitempty"`
	ExpectedVersion string `json:"expectedVersion,omitempty"`
}

// ConfigBatchWriteParams writes several values atomically.
type ConfigBatchWriteParams struct {
	Edits           []ConfigEdit `json:"edits"`
	FilePath        string       `json:"filePath,omitempty"`
	ExpectedVersion string       `json:"expectedVersion,omitempty"`
}

// ConfigWriteResult reports the written version.
type ConfigWriteResult struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

// LoginStartParams starts an API-key or browser login.
type LoginStartParams struct {
	Type   string `json:"type"`
	APIKey string `json:"apiKey,omitempty"`
}

// LoginStartResult carries the browser URL for interactive logins.
type LoginStartResult struct {
	Type    string `json:"type"`
	LoginID string `json:"loginId,omitempty"`
	AuthURL string `json:"authUrl,omitempty"`
}

// LoginCancelParams cancels a pending browser login.
type LoginCancelParams struct {
	LoginID string `json:"loginId"`
}

// AccountResult describes the signed-in account.
type AccountResult struct {
	Account            json.RawMessage `json:"account,omitempty"`
	RequiresOpenAIAuth bool            `json:"requiresOpenaiAuth"`
}

// WorkbookSelectParams selects the active workbook.
type WorkbookSelectParams struct {
	WorkbookID string `json:"workbookId"`
}

// ApprovalDecision is the user's answer to an approval request.
type ApprovalDecision string

const (
	DecisionAccept           ApprovalDecision = "accept"
	DecisionAcceptForSession ApprovalDecision = "acceptForSession"
	DecisionDecline          ApprovalDecision = "decline"
	DecisionCancel           ApprovalDecision = "cancel"
)

// Valid reports whether d is a decision the server understands.
func (d ApprovalDecision) Valid() bool {
	switch d {
	case DecisionAccept, DecisionAcceptForSession, DecisionDecline, DecisionCancel:
		return true
	}
	return false
}

// legacyDecisions maps decisions to the spelling older approval methods expect.
var legacyDecisions = map[ApprovalDecision]string{
	DecisionAccept:           "approved",
	DecisionAcceptForSession: "approved_for_session",
	DecisionDecline:          "denied",
	DecisionCancel:           "abort",
}

// ApprovalReply builds the result payload for an approval request method.
func ApprovalReply(method string, d ApprovalDecision) map[string]string {
	switch method {
	case "exec/approvalRequest", "execCommandApproval", "applyPatchApproval":
		return map[string]string{"decision": legacyDecisions[d]}
	}
	return map[string]string{"decision": string(d)}
}

// UserInputReply builds the result payload for item/tool/requestUserInput.
func UserInputReply(answers map[string]any) map[string]any {
	if answers == nil {
		answers = map[string]any{}
	}
	return map[string]any{"answers": answers}
}
