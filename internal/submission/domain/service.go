package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
)

const (
	ReasonInProgress  = "Generation already in progress"
	ReasonRateLimited = "Too many generation requests"
)

const (
	CallbackStatusOK      = "ok"
	CallbackStatusIgnored = "ignored"
)

type Request struct {
	OwnerID        string
	SubjectID      snowflake.ID
	SubscriptionID snowflake.ID
	ProviderType   string
	Payload        json.RawMessage
}

type Outcome struct {
	Allowed      bool                      `json:"allowed"`
	Reason       string                    `json:"reason,omitempty"`
	ProviderType string                    `json:"provider_type,omitempty"`
	Mode         string                    `json:"mode,omitempty"`
	QueueID      *string                   `json:"queue_id,omitempty"`
	TaskID       *string                   `json:"task_id,omitempty"`
	Usage        *usagedomain.ReserveResult `json:"usage,omitempty"`
}

type CallbackResult struct {
	Status     string                             `json:"status"`
	TaskID     string                             `json:"task_id,omitempty"`
	Kind       string                             `json:"kind,omitempty"`
	Completion *generationdomain.CompletionResult `json:"completion,omitempty"`
	Failure    *generationdomain.FailureResult    `json:"failure,omitempty"`
}

// Service turns a user request into a reserved credit plus a provider submission, and applies
// provider callbacks to the task registry.
type Service interface {
	RequestGeneration(ctx context.Context, req Request) (Outcome, error)
	HandleCallback(ctx context.Context, providerType string, body []byte) (CallbackResult, error)
}

var (
	ErrInvalidRequest = errors.New("invalid_generation_request")
)
