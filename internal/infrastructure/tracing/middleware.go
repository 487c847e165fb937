package tracing

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
)

// maxTraceIDLen bounds ids accepted from callers.
const maxTraceIDLen = 128

// HTTPMiddleware propagates or assigns a trace id and logs each request
// with it once the handler returns.
func HTTPMiddleware(logger *zap.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		traceID := TraceID(c.GetHeader(Header))
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = NewTraceID()
		}

		c.Request = c.Request.WithContext(WithTraceID(c.Request.Context(), traceID))
		c.Header(Header, string(traceID))

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("trace_id", string(traceID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
			logger.Warn("Request failed", fields...)
			return
		}
		logger.Debug("Request served", fields...)
	}
}
