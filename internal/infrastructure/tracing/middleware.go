package tracing

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// requestIDHeader is set by the request id middleware ahead of this one
const requestIDHeader = "X-Request-ID"

// HTTPMiddleware creates gin middleware that opens a span per request
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(map[string]string{
			TraceIDHeader: c.GetHeader(TraceIDHeader),
			SpanIDHeader:  c.GetHeader(SpanIDHeader),
		})
		ctx := WithTraceContext(c.Request.Context(), traceID, parentID)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}

		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)
		if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
			span.SetTag("request_id", rid)
		}
		if sid := c.Param("id"); sid != "" {
			span.SetTag("session_id", sid)
		}

		c.Request = c.Request.WithContext(ctx)

		c.Header(TraceIDHeader, string(span.TraceID))
		c.Header(SpanIDHeader, string(span.SpanID))

		c.Next()

		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))

		span.Finish()
		tracer.Submit(span)
	}
}
