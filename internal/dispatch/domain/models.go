package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusInFlight  EntryStatus = "in_flight"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// QueueEntry is one deferred provider submission. Entries leave pending in FIFO order per
// provider type; completed and failed are terminal.
type QueueEntry struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	ProviderType   string         `gorm:"type:text;not null;index:idx_dispatch_queue_provider_status"`
	OwnerID        string         `gorm:"type:text;not null"`
	SubjectID      snowflake.ID   `gorm:"not null;index"`
	SubscriptionID snowflake.ID   `gorm:"not null"`
	CreditCost     int            `gorm:"not null"`
	Status         EntryStatus    `gorm:"type:text;not null;index:idx_dispatch_queue_provider_status"`
	Payload        datatypes.JSON `gorm:"type:jsonb"`
	// TaskID is the provider task id, set when the submission is accepted.
	TaskID        *string `gorm:"type:text;index"`
	CorrelationID *string `gorm:"type:text"`
	LastError     *string `gorm:"type:text"`
	EnqueuedAt    time.Time `gorm:"not null"`
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (QueueEntry) TableName() string { return "dispatch_queue_entries" }
