package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetUsage reports the read-only usage snapshot; it never applies a pending period rollover.
func (s *Server) GetUsage(c *gin.Context) {
	subscriptionID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription id"))
		return
	}

	snapshot, err := s.usagesvc.Snapshot(c.Request.Context(), subscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := ownerScoped(ownerID(c), snapshot.OwnerID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
