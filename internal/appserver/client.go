package appserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
)

// Transport issues one correlated call on whatever connection is live.
// It fails with jsonrpc.ErrNotConnected when none is.
type Transport interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Client is the typed facade over the app-server protocol. Each operation
// becomes exactly one call, plus at most one retry under a legacy method name.
type Client struct {
	transport Transport
	tracer    *tracing.Tracer
	logger    *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTracer records a span per operation
func WithTracer(t *tracing.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a facade over t.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{transport: t, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs op with params and returns the raw result.
func (c *Client) Invoke(ctx context.Context, op Operation, params any) (json.RawMessage, error) {
	if !operations[op] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}

	var result json.RawMessage
	err := c.tracer.Trace(ctx, string(op), func(ctx context.Context, span *tracing.Span) error {
		span.SetTag("rpc.method", op.Method())

		raw, err := c.transport.Call(ctx, op.Method(), params)
		if legacy, ok := op.Legacy(); ok && isMethodNotFound(err, op.Method()) {
			c.logger.Debug("primary method unknown, retrying legacy name",
				zap.String("method", op.Method()),
				zap.String("legacy", legacy),
			)
			span.SetTag("rpc.legacy", legacy)
			raw, err = c.transport.Call(ctx, legacy, params)
		}
		result = raw
		return err
	})
	return result, err
}

func isMethodNotFound(err error, method string) bool {
	var rerr *jsonrpc.RemoteError
	return errors.As(err, &rerr) && rerr.IsMethodNotFound(method)
}

func invoke[T any](ctx context.Context, c *Client, op Operation, params any) (*T, error) {
	raw, err := c.Invoke(ctx, op, params)
	if err != nil {
		return nil, err
	}
	var out T
	if isNullJSON(raw) {
		return &out, nil
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", op, err)
	}
	return &out, nil
}

// StartThread starts a new thread.
func (c *Client) StartThread(ctx context.Context, p ThreadStartParams) (*ThreadResult, error) {
	return invoke[ThreadResult](ctx, c, OpThreadStart, p)
}

// ResumeThread reopens a stored thread.
func (c *Client) ResumeThread(ctx context.Context, p ThreadResumeParams) (*ThreadResult, error) {
	return invoke[ThreadResult](ctx, c, OpThreadResume, p)
}

// ForkThread branches a thread into a new one.
func (c *Client) ForkThread(ctx context.Context, threadID string) (*ThreadResult, error) {
	return invoke[ThreadResult](ctx, c, OpThreadFork, ThreadRef{ThreadID: threadID})
}

// ListThreads returns one page of threads.
func (c *Client) ListThreads(ctx context.Context, p ThreadListParams) (*ThreadListResult, error) {
	return invoke[ThreadListResult](ctx, c, OpThreadList, p)
}

// ReadThread loads a thread.
func (c *Client) ReadThread(ctx context.Context, threadID string) (*ThreadResult, error) {
	return invoke[ThreadResult](ctx, c, OpThreadRead, ThreadRef{ThreadID: threadID})
}

// ArchiveThread archives a thread.
func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	_, err := c.Invoke(ctx, OpThreadArchive, ThreadRef{ThreadID: threadID})
	return err
}

// UnarchiveThread restores an archived thread.
func (c *Client) UnarchiveThread(ctx context.Context, threadID string) (*ThreadResult, error) {
	return invoke[ThreadResult](ctx, c, OpThreadUnarchive, ThreadRef{ThreadID: threadID})
}

// SetThreadName renames a thread.
func (c *Client) SetThreadName(ctx context.Context, threadID, name string) error {
	_, err := c.Invoke(ctx, OpThreadSetName, ThreadSetNameParams{ThreadID: threadID, Name: name})
	return err
}

// RollbackThread drops the last n turns.
func (c *Client) RollbackThread(ctx context.Context, threadID string, n int) (*ThreadResult, error) {
	return invoke[ThreadResult](ctx, c, OpThreadRollback, ThreadRollbackParams{ThreadID: threadID, NumTurns: n})
}

// StartTurn sends user input.
func (c *Client) StartTurn(ctx context.Context, p TurnStartParams) (*TurnStartResult, error) {
	return invoke[TurnStartResult](ctx, c, OpTurnStart, p)
}

// InterruptTurn stops an in-progress turn. The turn's own completion
// arrives later as a notification.
func (c *Client) InterruptTurn(ctx context.Context, threadID, turnID string) error {
	_, err := c.Invoke(ctx, OpTurnInterrupt, TurnInterruptParams{ThreadID: threadID, TurnID: turnID})
	return err
}

// StartReview starts a review turn.
func (c *Client) StartReview(ctx context.Context, p ReviewStartParams) (*ReviewStartResult, error) {
	return invoke[ReviewStartResult](ctx, c, OpReviewStart, p)
}

// ListModels lists available models.
func (c *Client) ListModels(ctx context.Context, p PageParams) (*Page, error) {
	return invoke[Page](ctx, c, OpModelList, p)
}

// ReadConfig returns the effective configuration.
func (c *Client) ReadConfig(ctx context.Context, params any) (json.RawMessage, error) {
	return c.Invoke(ctx, OpConfigRead, params)
}

// WriteConfigValue writes one configuration value.
func (c *Client) WriteConfigValue(ctx context.Context, p ConfigWriteParams) (*ConfigWriteResult, error) {
	return invoke[ConfigWriteResult](ctx, c, OpConfigWrite, p)
}

// BatchWriteConfig writes several configuration values.
func (c *Client) BatchWriteConfig(ctx context.Context, p ConfigBatchWriteParams) (*ConfigWriteResult, error) {
	return invoke[ConfigWriteResult](ctx, c, OpConfigBatch, p)
}

// StartLogin starts a login flow.
func (c *Client) StartLogin(ctx context.Context, p LoginStartParams) (*LoginStartResult, error) {
	return invoke[LoginStartResult](ctx, c, OpLoginStart, p)
}

// CancelLogin abandons a browser login.
func (c *Client) CancelLogin(ctx context.Context, loginID string) error {
	_, err := c.Invoke(ctx, OpLoginCancel, LoginCancelParams{LoginID: loginID})
	return err
}

// Logout signs out.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Invoke(ctx, OpLogout, nil)
	return err
}

// ReadAccount describes the signed-in account.
func (c *Client) ReadAccount(ctx context.Context) (*AccountResult, error) {
	return invoke[AccountResult](ctx, c, OpAccountRead, nil)
}

// ReadRateLimits returns the current rate-limit windows.
func (c *Client) ReadRateLimits(ctx context.Context) (json.RawMessage, error) {
	return c.Invoke(ctx, OpRateLimitsRead, nil)
}

// ListWorkbooks lists workbooks.
func (c *Client) ListWorkbooks(ctx context.Context, p PageParams) (*Page, error) {
	return invoke[Page](ctx, c, OpWorkbookList, p)
}

// SelectWorkbook selects the active workbook.
func (c *Client) SelectWorkbook(ctx context.Context, workbookID string) (json.RawMessage, error) {
	return c.Invoke(ctx, OpWorkbookSelect, WorkbookSelectParams{WorkbookID: workbookID})
}

// ListSkills lists skills.
func (c *Client) ListSkills(ctx context.Context, params any) (*Page, error) {
	return invoke[Page](ctx, c, OpSkillsList, params)
}

// ListApps lists connector apps.
func (c *Client) ListApps(ctx context.Context, p PageParams) (*Page, error) {
	return invoke[Page](ctx, c, OpAppsList, p)
}
