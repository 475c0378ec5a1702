package middleware

import (
	"time"

	"huddle/pkg/logger"
	"huddle/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggingMiddleware tags every request with an id, echoes it back and
// logs the request once it completes. Run it after TracingMiddleware so the
// trace id is available.
func RequestLoggingMiddleware(cl *logger.ContextLogger, room string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := utils.TruncateString(utils.SanitizeString(c.GetHeader(RequestIDHeader)), 64)
		if id == "" {
			id = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, id)

		ctx := logger.WithRoomID(logger.WithRequestID(c.Request.Context(), id), room)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		cl.LogRequest(ctx, logger.RequestEntry{
			Method:   c.Request.Method,
			Route:    route,
			Status:   c.Writer.Status(),
			Duration: time.Since(start),
			ClientIP: c.ClientIP(),
		})
	}
}
