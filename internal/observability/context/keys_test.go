package context

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestContextKeysRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithOwnerID(ctx, "owner-1")
	ctx = WithProviderType(ctx, "song")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := OwnerIDFromContext(ctx); got != "owner-1" {
		t.Fatalf("expected owner id owner-1, got %q", got)
	}
	if got := ProviderTypeFromContext(ctx); got != "song" {
		t.Fatalf("expected provider type song, got %q", got)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithOwnerID(context.Background(), "")
	if got := OwnerIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty owner id, got %q", got)
	}
}

func TestOwnerIDFromGinFallsBackToKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Set("owner_id", " owner-9 ")

	if got := OwnerIDFromGin(c); got != "owner-9" {
		t.Fatalf("expected owner-9, got %q", got)
	}
}
