package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/api"
	"github.com/GriffinCanCode/agentshell/internal/appserver"
	"github.com/GriffinCanCode/agentshell/internal/preferences"
	"github.com/GriffinCanCode/agentshell/internal/routing"
	"github.com/GriffinCanCode/agentshell/internal/shared/utils"
	"github.com/GriffinCanCode/agentshell/internal/shell"
	"github.com/GriffinCanCode/agentshell/internal/supervisor"
	"github.com/GriffinCanCode/agentshell/internal/tray"
)

// Version is reported by the root endpoint.
var Version = "0.1.0"

// Backend is the shell as the REST API sees it.
type Backend interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() supervisor.Status
	Invoke(ctx context.Context, from routing.Surface, op appserver.Operation, params any) (json.RawMessage, error)
	PendingRequests() []shell.PendingRequest
	RespondApproval(requestID string, decision appserver.ApprovalDecision) error
	RespondUserInput(requestID string, answers map[string]any) error
	Router() *routing.Router
}

// Tray is the tray icon state.
type Tray interface {
	Status() tray.Status
	Dismiss()
}

// Preferences is the user preference store.
type Preferences interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
	Delete(key string) error
	All() []preferences.Setting
}

// LogLevel reads and changes the process log level.
type LogLevel interface {
	Level() string
	SetLevel(level string) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	backend     Backend
	tray        Tray
	prefs       Preferences
	logLevel    LogLevel
	logger      *zap.Logger
	callTimeout time.Duration
}

// NewHandlers creates a new handler set
func NewHandlers(b Backend, t Tray, p Preferences, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		backend:     b,
		tray:        t,
		prefs:       p,
		logger:      logger,
		callTimeout: 5 * time.Minute,
	}
}

// WithLogLevel enables the /logs/level endpoints.
func (h *Handlers) WithLogLevel(l LogLevel) *Handlers {
	h.logLevel = l
	return h
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/process", h.ProcessStatus)
	r.POST("/process/start", h.StartProcess)
	r.POST("/process/stop", h.StopProcess)

	r.GET("/ops", h.ListOperations)
	r.POST("/ops/*operation", h.InvokeOperation)

	r.GET("/approvals", h.ListPending)
	// request ids may contain slashes
	r.POST("/approvals/*id", h.RespondApproval)
	r.POST("/user-input/*id", h.RespondUserInput)

	r.GET("/surfaces", h.ListSurfaces)

	r.GET("/tray", h.TrayStatus)
	r.POST("/tray/dismiss", h.DismissNotice)

	r.GET("/preferences", h.ListPreferences)
	r.GET("/preferences/:key", h.GetPreference)
	r.PUT("/preferences/:key", h.SetPreference)
	r.DELETE("/preferences/:key", h.DeletePreference)

	r.POST("/logs", h.StreamLogs)
	if h.logLevel != nil {
		r.GET("/logs/level", h.GetLogLevel)
		r.PUT("/logs/level", h.SetLogLevel)
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	e := api.FromError(err)
	_ = c.Error(err)
	if e.Status >= http.StatusInternalServerError {
		h.logger.Warn("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", e.Code),
			zap.Error(err),
		)
	}
	c.JSON(e.Status, gin.H{"error": e})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", api.ErrBadRequest, fmt.Sprintf(format, args...))
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "agentshell",
		"version": Version,
	})
}

// Health reports whether the shell can currently reach an app-server.
// It answers 200 either way; the process state is in the body.
func (h *Handlers) Health(c *gin.Context) {
	st := h.backend.Status()
	status := "healthy"
	if st.State != supervisor.StateRunning {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"process":  st.State,
		"pending":  st.Pending,
		"surfaces": h.backend.Router().Len(),
	})
}

// ProcessStatus returns the supervisor status
func (h *Handlers) ProcessStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Status())
}

// StartProcess launches the app-server, waiting for the handshake.
func (h *Handlers) StartProcess(c *gin.Context) {
	if err := h.backend.Start(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.backend.Status())
}

// StopProcess stops the app-server gracefully.
func (h *Handlers) StopProcess(c *gin.Context) {
	if err := h.backend.Stop(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.backend.Status())
}

// ListOperations lists the operation names /ops accepts.
func (h *Handlers) ListOperations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": appserver.Operations()})
}

// InvokeOperation runs an app-server operation. The body is passed through
// as params and the raw result is returned. Sessions started here are not
// associated with any surface; UI windows use the websocket for that.
func (h *Handlers) InvokeOperation(c *gin.Context) {
	op, err := appserver.ParseOperation(strings.TrimPrefix(c.Param("operation"), "/"))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %q", err, c.Param("operation")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, utils.MaxParamsSize+1))
	if err != nil {
		h.fail(c, badRequest("read body: %v", err))
		return
	}
	body = bytes.TrimSpace(body)
	if err := utils.ValidateParams(body); err != nil {
		h.fail(c, err)
		return
	}
	var params any
	if len(body) > 0 {
		params = json.RawMessage(body)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.callTimeout)
	defer cancel()

	result, err := h.backend.Invoke(ctx, nil, op, params)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", result)
}

// ListPending lists approval and user-input requests waiting for an
// answer, oldest first. ?kind= narrows the list.
func (h *Handlers) ListPending(c *gin.Context) {
	kind := c.Query("kind")
	out := make([]shell.PendingRequest, 0)
	for _, r := range h.backend.PendingRequests() {
		if kind == "" || string(r.Kind) == kind {
			out = append(out, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

type approvalBody struct {
	Decision string `json:"decision" binding:"required"`
}

// RespondApproval answers an approval request
func (h *Handlers) RespondApproval(c *gin.Context) {
	var body approvalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, badRequest("%v", err))
		return
	}
	requestID := strings.TrimPrefix(c.Param("id"), "/")
	if err := utils.ValidateRequestID(requestID, "requestId"); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.backend.RespondApproval(requestID, appserver.ApprovalDecision(body.Decision)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requestId": requestID, "decision": body.Decision})
}

type userInputBody struct {
	Answers map[string]any `json:"answers"`
}

// RespondUserInput answers a user-input request
func (h *Handlers) RespondUserInput(c *gin.Context) {
	var body userInputBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, badRequest("%v", err))
		return
	}
	requestID := strings.TrimPrefix(c.Param("id"), "/")
	if err := utils.ValidateRequestID(requestID, "requestId"); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.backend.RespondUserInput(requestID, body.Answers); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requestId": requestID})
}

// ListSurfaces lists connected surfaces and the sessions they own.
func (h *Handlers) ListSurfaces(c *gin.Context) {
	surfaces := h.backend.Router().Surfaces()
	if surfaces == nil {
		surfaces = []routing.SurfaceInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"surfaces": surfaces})
}

// TrayStatus returns what the tray icon shows
func (h *Handlers) TrayStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.tray.Status())
}

// DismissNotice clears the tray notice
func (h *Handlers) DismissNotice(c *gin.Context) {
	h.tray.Dismiss()
	c.JSON(http.StatusOK, h.tray.Status())
}

// ListPreferences lists known and stored preferences
func (h *Handlers) ListPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"preferences": h.prefs.All()})
}

// GetPreference returns one preference
func (h *Handlers) GetPreference(c *gin.Context) {
	key := c.Param("key")
	v, ok := h.prefs.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": &api.Error{Code: api.CodeNotFound, Message: "preference not set: " + key}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

type preferenceBody struct {
	Value any `json:"value"`
}

// SetPreference stores one preference
func (h *Handlers) SetPreference(c *gin.Context) {
	var body preferenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, badRequest("%v", err))
		return
	}
	if body.Value == nil {
		h.fail(c, badRequest("value is required"))
		return
	}
	key := c.Param("key")
	if err := h.prefs.Set(key, body.Value); err != nil {
		h.fail(c, err)
		return
	}
	v, _ := h.prefs.Get(key)
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

// DeletePreference reverts one preference to its default
func (h *Handlers) DeletePreference(c *gin.Context) {
	key := c.Param("key")
	if err := h.prefs.Delete(key); err != nil {
		h.fail(c, err)
		return
	}
	v, _ := h.prefs.Get(key)
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}
