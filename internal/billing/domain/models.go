package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventTypeInitialPurchase = "INITIAL_PURCHASE"
	EventTypeRenewal         = "RENEWAL"
	EventTypeProductChange   = "PRODUCT_CHANGE"
	EventTypeCancellation    = "CANCELLATION"
	EventTypeUncancellation  = "UNCANCELLATION"
	EventTypeExpiration      = "EXPIRATION"
)

const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusIgnored   = "ignored"
	StatusDuplicate = "duplicate"
)

// EventRecord dedupes billing deliveries by DedupeKey. It stays received until the tier change
// is applied, so a failed delivery is retried.
type EventRecord struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	DedupeKey   string         `json:"dedupe_key" gorm:"type:text;not null;uniqueIndex"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	AppUserID   string         `json:"app_user_id" gorm:"type:text;not null"`
	ProductID   string         `json:"product_id" gorm:"type:text;not null"`
	Store       string         `json:"store" gorm:"type:text"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Status      string         `json:"status" gorm:"type:text;not null"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "billing_webhook_events" }

// Event is the canonical subscription event extracted from a billing webhook body.
type Event struct {
	Key            string
	Type           string
	AppUserID      string
	ProductID      string
	Store          string
	ExpiresAt      *time.Time
	EntitlementIDs []string
}

type IngestResult struct {
	Status         string `json:"status"`
	EventType      string `json:"event_type,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Tier           string `json:"tier,omitempty"`
	Reset          bool   `json:"reset,omitempty"`
}

type Service interface {
	Ingest(ctx context.Context, headers http.Header, body []byte) (IngestResult, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, key string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

var (
	ErrUnauthorized   = errors.New("billing_webhook_unauthorized")
	ErrInvalidPayload = errors.New("billing_webhook_invalid_payload")
)
