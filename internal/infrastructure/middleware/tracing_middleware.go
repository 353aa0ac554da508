package middleware

import (
	"net/http"
	"time"

	"livesignal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a server span per request. Only 5xx responses mark
// the span as failed; 4xx are the caller's error.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if id := c.Writer.Header().Get(RequestIDHeader); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		tracing.MeasureDuration(ctx, start, "http")
		if identity, ok := GetIdentity(c); ok {
			span.SetAttributes(attribute.String("livesignal.identity", string(identity)))
		}

		switch {
		case status >= http.StatusInternalServerError:
			tracing.SetSpanStatus(ctx, codes.Error, c.Errors.String())
		case status < http.StatusBadRequest:
			tracing.SetSpanStatus(ctx, codes.Ok, "")
		}
	}
}
