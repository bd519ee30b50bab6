package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UILogEntry represents a log entry from the UI
type UILogEntry struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Timestamp string         `json:"timestamp"`
	Surface   string         `json:"surfaceId"`
}

// UILogBatch represents a batch of logs from the UI
type UILogBatch struct {
	Source  string       `json:"source"`
	Entries []UILogEntry `json:"entries"`
}

const maxLogBatch = 500

// LogLevelRequest changes the log level.
type LogLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

// StreamLogs writes UI log entries into the shell's own log so one file
// covers both sides.
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req UILogBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid log batch: %v", err))
		return
	}
	if len(req.Entries) == 0 {
		h.fail(c, badRequest("no log entries provided"))
		return
	}
	if len(req.Entries) > maxLogBatch {
		h.fail(c, badRequest("too many entries: %d > %d", len(req.Entries), maxLogBatch))
		return
	}

	source := req.Source
	if source == "" {
		source = "ui"
	}
	logger := h.logger.Named(source)
	for _, entry := range req.Entries {
		logUIEntry(logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{"received": len(req.Entries)})
}

func logUIEntry(logger *zap.Logger, entry UILogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+3)
	fields = append(fields,
		zap.String("ui_log_id", entry.ID),
		zap.String("ui_timestamp", entry.Timestamp),
	)
	if entry.Surface != "" {
		fields = append(fields, zap.String("surface", entry.Surface))
	}

	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}

// GetLogLevel reports the current log level.
func (h *Handlers) GetLogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": h.logLevel.Level()})
}

// SetLogLevel changes the log level of every component at once.
func (h *Handlers) SetLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid body: %v", err))
		return
	}
	if err := h.logLevel.SetLevel(req.Level); err != nil {
		h.fail(c, badRequest("invalid level %q", req.Level))
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": h.logLevel.Level()})
}
