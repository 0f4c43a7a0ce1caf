package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type OutputStatus string

const (
	OutputStatusPending OutputStatus = "pending"
	OutputStatusReady   OutputStatus = "ready"
	OutputStatusFailed  OutputStatus = "failed"
)

// Task groups the outputs produced by one outbound provider request.
type Task struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	TaskID         string        `gorm:"type:text;not null;uniqueIndex"`
	OwnerID        string        `gorm:"type:text;not null;index"`
	SubjectID      snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null"`
	ProviderType   string        `gorm:"type:text;not null"`
	CreditCost     int           `gorm:"not null"`
	OutputCount    int           `gorm:"not null"`
	QueueEntryID   *snowflake.ID `gorm:"index"`
	CreatedAt      time.Time     `gorm:"not null"`
	UpdatedAt      time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (Task) TableName() string { return "generation_tasks" }

// Output is one slot of a task. Status moves pending to ready or pending to failed exactly once.
type Output struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	TaskID           string       `gorm:"type:text;not null;uniqueIndex:ux_generation_outputs_task_index"`
	Index            int          `gorm:"column:output_index;not null;uniqueIndex:ux_generation_outputs_task_index"`
	OwnerID          string       `gorm:"type:text;not null"`
	SubjectID        snowflake.ID `gorm:"not null;index"`
	Status           OutputStatus `gorm:"type:text;not null"`
	ResultRef        *string      `gorm:"type:text"`
	Title            *string      `gorm:"type:text"`
	DurationSeconds  *float64
	ProviderResultID *string   `gorm:"type:text"`
	Error            *string   `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Output) TableName() string { return "generation_outputs" }

// Result is one entry of a provider completion callback. Fields are optional; an entry
// without a MediaRef cannot satisfy an output.
type Result struct {
	ID              string
	MediaRef        string
	Title           string
	DurationSeconds *float64
}
