/*
Package tracing provides lightweight spans for upward API requests and the
app-server calls they fan out to.

Spans are buffered and written to the log by a single collector goroutine.
A trace id arriving in the X-Trace-ID header, or in a W3C traceparent
header, is reused, so a UI can follow one user action from its HTTP
request down to the JSON-RPC method it hit.

	tracer := tracing.New("agentshell", logger.Named("trace"))
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer, "/health", "/metrics"))

	err := tracer.Trace(ctx, "thread/start", func(ctx context.Context, span *tracing.Span) error {
		span.SetTag("rpc.method", "thread/start")
		return doCall(ctx)
	})
*/
package tracing
