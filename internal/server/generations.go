package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	submissiondomain "github.com/smallbiznis/mediaforge/internal/submission/domain"
	"github.com/smallbiznis/mediaforge/pkg/db/pagination"
)

type createGenerationRequest struct {
	SubjectID      string          `json:"subjectId"`
	SubscriptionID string          `json:"subscriptionId"`
	ProviderType   string          `json:"providerType"`
	Payload        json.RawMessage `json:"payload"`
}

func (s *Server) CreateGeneration(c *gin.Context) {
	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subjectID, err := parseSnowflakeID(req.SubjectID)
	if err != nil {
		AbortWithError(c, newValidationError("subject_id", "invalid_subject_id", "invalid subject id"))
		return
	}
	subscriptionID, err := parseSnowflakeID(req.SubscriptionID)
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription id"))
		return
	}
	if strings.TrimSpace(req.ProviderType) == "" {
		AbortWithError(c, newValidationError("provider_type", "required", "provider type is required"))
		return
	}

	outcome, err := s.submissions.RequestGeneration(c.Request.Context(), submissiondomain.Request{
		OwnerID:        ownerID(c),
		SubjectID:      subjectID,
		SubscriptionID: subscriptionID,
		ProviderType:   req.ProviderType,
		Payload:        req.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch {
	case outcome.Allowed:
		c.JSON(http.StatusAccepted, outcome)
	case outcome.Reason == submissiondomain.ReasonRateLimited:
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, outcome)
	default:
		c.JSON(http.StatusOK, outcome)
	}
}

func (s *Server) GetGeneration(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("taskId"))
	if taskID == "" {
		AbortWithError(c, newValidationError("task_id", "required", "task id is required"))
		return
	}

	task, err := s.generations.GetTask(c.Request.Context(), taskID, ownerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (s *Server) ListGenerations(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := generationdomain.ListTasksRequest{
		OwnerID:    ownerID(c),
		Pagination: page,
	}
	if raw := strings.TrimSpace(c.Query("subjectId")); raw != "" {
		subjectID, err := parseSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("subject_id", "invalid_subject_id", "invalid subject id"))
			return
		}
		req.SubjectID = subjectID
	}

	resp, err := s.generations.ListTasks(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}
