package tracing

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Header carrying the trace id in both directions.
const Header = "X-Trace-ID"

// HTTPMiddleware runs each request in a span and echoes its trace id.
// Paths in skip (health probes, metrics scrapes) still get a trace id but
// no span.
func HTTPMiddleware(tracer *Tracer, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		ctx := WithTraceID(c.Request.Context(), incomingTraceID(c))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		c.Request = c.Request.WithContext(ctx)
		c.Header(Header, string(span.TraceID))

		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)
		if websocket.IsWebSocketUpgrade(c.Request) {
			// The span covers the upgrade, not the connection.
			span.SetTag("http.upgrade", "websocket")
			span.Finish()
			tracer.Submit(span)
			c.Next()
			return
		}

		c.Next()

		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

func incomingTraceID(c *gin.Context) TraceID {
	if id := c.GetHeader(Header); id != "" {
		return TraceID(id)
	}
	return traceParentID(c.GetHeader("traceparent"))
}

// traceParentID extracts the trace id from a W3C traceparent header
// ("00-<32 hex>-<16 hex>-<2 hex>"). Anything else yields "".
func traceParentID(h string) TraceID {
	parts := strings.Split(h, "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	for _, r := range parts[1] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return ""
		}
	}
	if strings.Trim(parts[1], "0") == "" {
		return ""
	}
	return TraceID(parts[1])
}
