package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderRequestID = "X-Request-ID"
	contextKeyReqID = "request_id"
)

// requestID propagates the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(contextKeyReqID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log := s.logger.With(map[string]interface{}{
			"request_id": c.GetString(contextKeyReqID),
			"status":     c.Writer.Status(),
		})
		took := time.Since(started)
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("%s %s %d (%s)", c.Request.Method, c.Request.URL.Path, status, took)
		case c.Request.URL.Path == "/api/health" || c.Request.URL.Path == "/metrics":
			log.Trace("%s %s %d (%s)", c.Request.Method, c.Request.URL.Path, status, took)
		default:
			log.Debug("%s %s %d (%s)", c.Request.Method, c.Request.URL.Path, status, took)
		}
	}
}

// tracing starts a server span per request, continuing the caller's trace
// when it sent W3C trace headers.
func tracing() gin.HandlerFunc {
	tracer := otel.Tracer("github.com/agentuity/transit-live/server")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("request.id", c.GetString(contextKeyReqID)),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "")
		}
	}
}
