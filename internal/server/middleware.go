package server

import (
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/mediaforge/internal/observability/context"
	"github.com/smallbiznis/mediaforge/pkg/telemetry/correlation"
)

const contextOwnerIDKey = "owner_id"

// OwnerRequired rejects API calls that arrive without a gateway-resolved owner.
func OwnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if obscontext.OwnerIDFromGin(c) == "" {
			AbortWithError(c, ErrOwnerRequired)
			return
		}
		c.Next()
	}
}

// Correlation reuses or mints the correlation id carried to providers and back.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cid := correlation.FromRequest(c.Request.Context(), c.Request)
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlation.Header, cid)
		c.Next()
	}
}

func ownerID(c *gin.Context) string {
	return obscontext.OwnerIDFromGin(c)
}
