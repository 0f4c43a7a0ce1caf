package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	"gorm.io/gorm"
)

const (
	ReasonConcurrency = "concurrency"
	ReasonRateLimit   = "rate-limit"
	ReasonBusy        = "busy"
	ReasonLockLost    = "lock-lost"
)

type EnqueueRequest struct {
	ProviderType   string
	OwnerID        string
	SubjectID      snowflake.ID
	SubscriptionID snowflake.ID
	CreditCost     int
	Payload        json.RawMessage
}

type PumpResult struct {
	ProviderType string `json:"provider_type"`
	Dispatched   int    `json:"dispatched"`
	Failed       int    `json:"failed"`
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
}

// DirectResult is a synchronous submission that holds a concurrency slot until its callback
// settles it. Reason is set, and Entry nil, when a provider limit refused the slot.
type DirectResult struct {
	Entry    *QueueEntry
	Response providerdomain.SubmitResponse
	Reason   string
}

// SubmissionListener reacts to the outcome of a queued submission. OnSubmitted runs inside the
// transaction that records the provider task id.
type SubmissionListener interface {
	OnSubmitted(ctx context.Context, tx *gorm.DB, entry *QueueEntry, resp providerdomain.SubmitResponse) error
	OnSubmitFailed(ctx context.Context, entry *QueueEntry, cause error) error
}

type Service interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*QueueEntry, error)
	Pump(ctx context.Context, providerType string) (PumpResult, error)
	// SubmitDirect submits req without queueing, under the same concurrency and rate limits as Pump.
	SubmitDirect(ctx context.Context, req EnqueueRequest) (DirectResult, error)
	// MarkCompleted settles the in-flight entry correlated to a provider task id.
	MarkCompleted(ctx context.Context, taskID string) (bool, error)
	MarkSettled(ctx context.Context, taskID string, succeeded bool) (bool, error)
	// HasPendingForSubject reports unsettled entries for the subject started or enqueued within window.
	HasPendingForSubject(ctx context.Context, subjectID snowflake.ID, window time.Duration) (bool, error)
	GetEntry(ctx context.Context, id snowflake.ID) (*QueueEntry, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *QueueEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*QueueEntry, error)
	CountInFlight(ctx context.Context, db *gorm.DB, providerType string) (int64, error)
	CountStartedSince(ctx context.Context, db *gorm.DB, providerType string, since time.Time) (int64, error)
	NextPending(ctx context.Context, db *gorm.DB, providerType string) (*QueueEntry, error)
	MarkInFlight(ctx context.Context, db *gorm.DB, id snowflake.ID, correlationID string, now time.Time) (int64, error)
	MarkSubmitted(ctx context.Context, db *gorm.DB, id snowflake.ID, taskID string, now time.Time) (int64, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (int64, error)
	SettleByTaskID(ctx context.Context, db *gorm.DB, taskID string, status EntryStatus, now time.Time) (int64, error)
	HasActiveForSubject(ctx context.Context, db *gorm.DB, subjectID snowflake.ID, since time.Time) (bool, error)
}

var (
	ErrInvalidEntry    = errors.New("invalid_queue_entry")
	ErrEntryNotFound   = errors.New("queue_entry_not_found")
	ErrInvalidProvider = errors.New("invalid_provider_type")
)
