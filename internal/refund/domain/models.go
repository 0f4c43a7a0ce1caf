package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	ReasonTaskFailed        = "task_failed"
	ReasonNoOutputsReady    = "no_outputs_ready"
	ReasonSubmissionFailed  = "submission_failed"
	ReasonDirectSubmitError = "direct_submit_failed"
	ReasonProviderLimited   = "provider_limited"
)

// CreditRefund proves a refund happened; the idempotency key is unique.
type CreditRefund struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	TaskID         *string      `gorm:"type:text"`
	QueueEntryID   *snowflake.ID
	Reason         string    `gorm:"type:text;not null"`
	Credits        int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditRefund) TableName() string { return "credit_refunds" }

type RefundResult struct {
	AlreadyFailed bool `json:"already_failed"`
	Refunded      bool `json:"refunded"`
}

type SubmissionRefund struct {
	Key            string
	SubscriptionID snowflake.ID
	QueueEntryID   *snowflake.ID
	Cost           int
	Reason         string
}

type Service interface {
	RefundTaskFailure(ctx context.Context, taskID, reason string) (RefundResult, error)
	RefundTaskFailureTx(ctx context.Context, tx *gorm.DB, taskID, reason string) (RefundResult, error)
	// RefundUnfulfilledTaskTx refunds a task whose outputs all failed, without checking output state.
	RefundUnfulfilledTaskTx(ctx context.Context, tx *gorm.DB, taskID, reason string) (RefundResult, error)
	RefundSubmission(ctx context.Context, req SubmissionRefund) (RefundResult, error)
}

type Repository interface {
	// Insert reports whether the key was new.
	Insert(ctx context.Context, db *gorm.DB, refund *CreditRefund) (bool, error)
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*CreditRefund, error)
}

func TaskKey(taskID string) string { return "task:" + taskID }

func QueueKey(entryID snowflake.ID) string { return fmt.Sprintf("queue:%s", entryID) }

func DirectKey(requestID snowflake.ID) string { return fmt.Sprintf("direct:%s", requestID) }

var (
	ErrInvalidRefundKey = errors.New("invalid_refund_key")
	ErrTaskNotFound     = errors.New("refund_task_not_found")
)
