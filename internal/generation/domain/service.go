package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreatePendingRequest struct {
	TaskID         string
	OwnerID        string
	SubjectID      snowflake.ID
	SubscriptionID snowflake.ID
	ProviderType   string
	CreditCost     int
	OutputCount    int
	QueueEntryID   *snowflake.ID
}

type CompletionResult struct {
	TaskID string `json:"task_id"`
	// Unknown is set when no outputs exist for the task id.
	Unknown        bool `json:"unknown"`
	Readied        int  `json:"readied"`
	Failed         int  `json:"failed"`
	ReadyTotal     int  `json:"ready_total"`
	PrimaryUpdated bool `json:"primary_updated"`
	Refunded       bool `json:"refunded"`
}

type FailureResult struct {
	AlreadyFailed bool `json:"already_failed"`
	Refunded      bool `json:"refunded"`
}

type OutputView struct {
	Index           int      `json:"index"`
	Status          string   `json:"status"`
	ResultRef       *string  `json:"result_ref,omitempty"`
	Title           *string  `json:"title,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Error           *string  `json:"error,omitempty"`
}

type TaskView struct {
	TaskID         string       `json:"task_id"`
	OwnerID        string       `json:"owner_id"`
	SubjectID      string       `json:"subject_id"`
	SubscriptionID string       `json:"subscription_id"`
	ProviderType   string       `json:"provider_type"`
	CreditCost     int          `json:"credit_cost"`
	Status         string       `json:"status"`
	Outputs        []OutputView `json:"outputs"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type ListTasksRequest struct {
	OwnerID   string
	SubjectID snowflake.ID
	pagination.Pagination
}

type ListTasksResponse struct {
	Tasks    []TaskView           `json:"tasks"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	CreatePendingOutputs(ctx context.Context, req CreatePendingRequest) ([]Output, error)
	// CreatePendingOutputsTx joins the caller's transaction.
	CreatePendingOutputsTx(ctx context.Context, tx *gorm.DB, req CreatePendingRequest) ([]Output, error)
	CompleteTask(ctx context.Context, taskID string, results []Result) (CompletionResult, error)
	FailTask(ctx context.Context, taskID, reason string) (FailureResult, error)
	GetTask(ctx context.Context, taskID, ownerID string) (*TaskView, error)
	ListTasks(ctx context.Context, req ListTasksRequest) (ListTasksResponse, error)
	HasRecentInFlight(ctx context.Context, subjectID snowflake.ID, window time.Duration) (bool, error)
}

type Repository interface {
	InsertTask(ctx context.Context, db *gorm.DB, task *Task) (bool, error)
	FindTask(ctx context.Context, db *gorm.DB, taskID string) (*Task, error)
	InsertOutputs(ctx context.Context, db *gorm.DB, outputs []Output) error
	ListOutputs(ctx context.Context, db *gorm.DB, taskID string) ([]Output, error)
	// TransitionOutput applies updates only while the output is still pending.
	TransitionOutput(ctx context.Context, db *gorm.DB, id snowflake.ID, updates map[string]any) (int64, error)
	FailPendingOutputs(ctx context.Context, db *gorm.DB, taskID, reason string, now time.Time) (int64, error)
	CountOutputs(ctx context.Context, db *gorm.DB, taskID string, status OutputStatus) (int64, error)
	HasPendingSince(ctx context.Context, db *gorm.DB, subjectID snowflake.ID, since time.Time) (bool, error)
	ListTasks(ctx context.Context, db *gorm.DB, filter TaskFilter) ([]*Task, error)
}

type TaskFilter struct {
	OwnerID   string
	SubjectID snowflake.ID
	Limit     int
	// Cursor bounds the page to tasks strictly older than (CreatedAt, ID).
	Cursor *pagination.Cursor
}

var (
	ErrInvalidOutputCount = errors.New("invalid_output_count")
	ErrInvalidTaskID      = errors.New("invalid_task_id")
	ErrInvalidOwner       = errors.New("invalid_owner")
	ErrTaskNotFound       = errors.New("task_not_found")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
