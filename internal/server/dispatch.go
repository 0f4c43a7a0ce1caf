package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PumpDispatch drains one provider queue on demand, in addition to the worker loop.
func (s *Server) PumpDispatch(c *gin.Context) {
	providerType := strings.TrimSpace(c.Param("providerType"))

	result, err := s.dispatchsvc.Pump(c.Request.Context(), providerType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Debug("manual dispatch pump",
		zap.String("provider_type", result.ProviderType),
		zap.Int("dispatched", result.Dispatched),
		zap.Bool("skipped", result.Skipped),
	)
	c.JSON(http.StatusOK, result)
}
