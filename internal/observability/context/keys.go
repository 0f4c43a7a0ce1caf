package context

import "context"

type contextKey string

const (
	requestIDKey    contextKey = "observability_request_id"
	ownerIDKey      contextKey = "observability_owner_id"
	providerTypeKey contextKey = "observability_provider_type"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithOwnerID records the resolved caller identity for logs.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	if ctx == nil || ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

func OwnerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(ownerIDKey).(string)
	return value
}

func WithProviderType(ctx context.Context, providerType string) context.Context {
	if ctx == nil || providerType == "" {
		return ctx
	}
	return context.WithValue(ctx, providerTypeKey, providerType)
}

func ProviderTypeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(providerTypeKey).(string)
	return value
}
