package correlation

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx, cid := EnsureCorrelationID(ctx)

	assert.Equal(t, "cid-1", cid)
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())

	assert.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestFromRequestAndInject(t *testing.T) {
	in := httptest.NewRequest("POST", "/webhooks/generation/song", nil)
	in.Header.Set(Header, "abc")

	ctx, cid := FromRequest(context.Background(), in)
	assert.Equal(t, "abc", cid)

	out := httptest.NewRequest("POST", "http://provider.local/generate", nil)
	Inject(ctx, out)
	assert.Equal(t, "abc", out.Header.Get(Header))
}
