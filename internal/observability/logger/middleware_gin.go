package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/mediaforge/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// OwnerHeader carries the owner identity resolved by the upstream gateway.
const OwnerHeader = "X-User-Id"

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to the (type, code) pair of the error envelope.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware seeds the request context with request and owner ids and
// writes one http_request entry when the handler chain returns.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(requestContext(c))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if providerType := c.Param("providerType"); providerType != "" {
			fields = append(fields, zap.String("provider_type", providerType))
		}
		if webhookStatus := c.GetString("webhook_status"); webhookStatus != "" {
			fields = append(fields, zap.String("webhook_status", webhookStatus))
		}

		errorType := ""
		if last := c.Errors.Last(); last != nil {
			errorCode := ""
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, c.Writer.Status(), errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestContext(c *gin.Context) context.Context {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)

	reqCtx := obscontext.WithRequestID(c.Request.Context(), requestID)
	if ownerID := strings.TrimSpace(c.GetHeader(OwnerHeader)); ownerID != "" {
		reqCtx = obscontext.WithOwnerID(reqCtx, ownerID)
		c.Set("owner_id", ownerID)
	}
	return reqCtx
}

// requestLevel keeps scrape traffic and rejected provider callbacks at debug.
// Providers retry rejected callbacks, so their validation failures are noise.
func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zap.DebugLevel
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case strings.HasPrefix(route, "/webhooks/") && errorType == "validation_error":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}
