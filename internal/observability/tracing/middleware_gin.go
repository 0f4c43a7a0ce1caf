package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/mediaforge/internal/observability/context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. Provider callbacks carry their
// own traceparent, so webhook spans join the provider's trace when present.
func GinMiddleware() gin.HandlerFunc {
	tracer := Tracer("http")
	return func(c *gin.Context) {
		ctx := extractHeaders(c.Request.Context(), c.Request.Header)
		ctx = withRequestBaggage(ctx)

		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, c.Request.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(identityAttributes(ctx)...),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		finishSpan(c, span)
	}
}

func finishSpan(c *gin.Context, span trace.Span) {
	route := c.FullPath()
	if route == "" {
		route = "unknown"
	}
	status := c.Writer.Status()
	span.SetName(spanName(c.Request.Method, route))

	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	}
	if providerType := c.Param("providerType"); providerType != "" {
		attrs = append(attrs, attribute.String("provider.type", providerType))
	}
	if webhookStatus := c.GetString("webhook_status"); webhookStatus != "" {
		attrs = append(attrs, attribute.String("webhook.status", webhookStatus))
	}
	span.SetAttributes(SafeAttributes(attrs...)...)

	if status < http.StatusInternalServerError {
		return
	}
	if last := c.Errors.Last(); last != nil {
		span.RecordError(SafeError(last.Err))
	}
	span.SetStatus(codes.Error, http.StatusText(status))
}

func identityAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String("request_id", requestID))
	}
	if ownerID := obscontext.OwnerIDFromContext(ctx); ownerID != "" {
		attrs = append(attrs, attribute.String("owner_id", ownerID))
	}
	return attrs
}

// withRequestBaggage forwards the request id to provider calls made while serving it.
func withRequestBaggage(ctx context.Context) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

const webhookSpanPrefix = "HTTP POST /webhooks/"

func spanName(method, route string) string {
	return "HTTP " + strings.ToUpper(method) + " " + route
}
