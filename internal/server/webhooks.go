package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

func (s *Server) HandleGenerationWebhook(c *gin.Context) {
	providerType := strings.TrimSpace(c.Param("providerType"))

	body, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.submissions.HandleCallback(c.Request.Context(), providerType, body)
	if err != nil {
		c.Set("webhook_status", "rejected")
		AbortWithError(c, err)
		return
	}

	c.Set("webhook_status", result.Status)
	c.JSON(http.StatusOK, result)
}

// HandleBillingWebhook answers 200 for every recognized event so the billing provider stops retrying.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	body, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingsvc.Ingest(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		c.Set("webhook_status", "rejected")
		AbortWithError(c, err)
		return
	}

	c.Set("webhook_status", result.Status)
	c.JSON(http.StatusOK, result)
}

func readWebhookBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
}
