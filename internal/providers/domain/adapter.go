package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/mediaforge/internal/config"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
)

//go:generate mockgen -source=adapter.go -destination=../mocks/mock_adapter.go -package=mocks

// CallbackKind classifies a provider callback for the completion handler.
type CallbackKind string

const (
	CallbackComplete CallbackKind = "complete"
	CallbackFailed   CallbackKind = "failed"
	CallbackIgnored  CallbackKind = "ignored"
)

type SubmitRequest struct {
	ProviderType string
	OwnerID      string
	Prompt       string
	Title        string
	// Payload is merged into the outbound body; Prompt and Title fill missing keys.
	Payload json.RawMessage
	// CorrelationID is sent as X-Correlation-Id.
	CorrelationID string
}

type SubmitResponse struct {
	TaskID      string
	OutputCount int
	StatusCode  int
}

type Callback struct {
	TaskID  string
	Kind    CallbackKind
	Subtype string
	Reason  string
	Results []generationdomain.Result
}

type Adapter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
	ParseCallback(body []byte) (Callback, error)
}

type AdapterConfig struct {
	ProviderType string
	Settings     config.ProviderSettings
	CallbackURL  string
	Timeout      time.Duration
}

type AdapterFactory interface {
	Kind() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// ProviderError reports a failed outbound submission.
type ProviderError struct {
	ProviderType string
	StatusCode   int
	Body         string
	Err          error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.ProviderType, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.ProviderType, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var (
	ErrKindNotFound        = errors.New("provider_kind_not_found")
	ErrUnknownProvider     = errors.New("unknown_provider")
	ErrInvalidConfig       = errors.New("provider_invalid_config")
	ErrMalformedPayload    = errors.New("provider_malformed_payload")
	ErrMissingTaskID       = errors.New("provider_missing_task_id")
	ErrSubmissionRejected  = errors.New("provider_submission_rejected")
	ErrSubmissionTransport = errors.New("provider_submission_transport")
)

// Catalog resolves the adapter and settings configured for a provider type.
type Catalog interface {
	Resolve(providerType string) (Adapter, config.ProviderSettings, error)
	ProviderTypes() []string
}
