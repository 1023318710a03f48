package telemetry

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceIDHeader carries the request trace id back to the caller
	TraceIDHeader = "X-Trace-ID"

	idempotencyHeader = "X-Idempotency-Key"
)

// MiddlewareConfig tunes TracingMiddleware
type MiddlewareConfig struct {
	ServiceName string
	// SkipPaths are served without a span (probes, scrapes)
	SkipPaths []string
	// UserIDKey is the gin context key holding the authenticated user
	UserIDKey string
}

// TracingMiddleware starts a server span per request and tags it with the
// booking or event id from the path.
func TracingMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer(cfg.ServiceName)
	propagator := otel.GetTextMapPropagator()

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		attrs := []attribute.KeyValue{
			semconv.HTTPMethod(c.Request.Method),
			semconv.HTTPRoute(route),
			semconv.UserAgentOriginal(c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		attrs = append(attrs, routeAttributes(c)...)
		if c.GetHeader(idempotencyHeader) != "" {
			attrs = append(attrs, attribute.Bool("idempotent", true))
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", c.Request.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID := sc.TraceID().String()
			c.Header(TraceIDHeader, traceID)
			c.Set("trace_id", traceID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		if cfg.UserIDKey != "" {
			if userID := c.GetString(cfg.UserIDKey); userID != "" {
				span.SetAttributes(attribute.String("user_id", userID))
			}
		}

		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

// routeAttributes maps the ":id" parameter to booking_id or event_id
// depending on which resource the route addresses.
func routeAttributes(c *gin.Context) []attribute.KeyValue {
	id := c.Param("id")
	if id == "" {
		return nil
	}
	switch route := c.FullPath(); {
	case strings.Contains(route, "/bookings/"):
		return []attribute.KeyValue{attribute.String("booking_id", id)}
	case strings.Contains(route, "/events/"):
		return []attribute.KeyValue{attribute.String("event_id", id)}
	default:
		return nil
	}
}
