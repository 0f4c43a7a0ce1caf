package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header propagates a correlation id across outbound provider calls and their callbacks.
const Header = "X-Correlation-Id"

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// FromRequest reuses an inbound correlation header or mints a new id.
func FromRequest(ctx context.Context, r *http.Request) (context.Context, string) {
	if r != nil {
		if cid := strings.TrimSpace(r.Header.Get(Header)); cid != "" {
			return ContextWithCorrelationID(ctx, cid), cid
		}
	}
	return EnsureCorrelationID(ctx)
}

// Inject writes the context correlation id onto an outbound request.
func Inject(ctx context.Context, r *http.Request) {
	if r == nil {
		return
	}
	if cid := ExtractCorrelationID(ctx); cid != "" {
		r.Header.Set(Header, cid)
	}
}
