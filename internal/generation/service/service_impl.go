package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	"github.com/smallbiznis/mediaforge/internal/observability/tracing"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	"github.com/smallbiznis/mediaforge/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	errMissingResult   = "missing_result"
	errMalformedResult = "malformed_result"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     generationdomain.Repository
	Subjects subjectdomain.Service
	Refunds  refunddomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     generationdomain.Repository
	subjects subjectdomain.Service
	refunds  refunddomain.Service
}

func NewService(p ServiceParam) generationdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("generation.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		subjects: p.Subjects,
		refunds:  p.Refunds,
	}
}

func (s *Service) CreatePendingOutputs(ctx context.Context, req generationdomain.CreatePendingRequest) ([]generationdomain.Output, error) {
	var outputs []generationdomain.Output
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		outputs, err = s.CreatePendingOutputsTx(ctx, tx, req)
		return err
	})
	return outputs, err
}

// CreatePendingOutputsTx registers a task with outputCount pending outputs. Replaying an existing
// task id returns the stored outputs unchanged.
func (s *Service) CreatePendingOutputsTx(ctx context.Context, tx *gorm.DB, req generationdomain.CreatePendingRequest) ([]generationdomain.Output, error) {
	req.TaskID = strings.TrimSpace(req.TaskID)
	if req.TaskID == "" {
		return nil, generationdomain.ErrInvalidTaskID
	}
	if req.OutputCount <= 0 {
		return nil, generationdomain.ErrInvalidOutputCount
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, generationdomain.ErrInvalidOwner
	}

	now := s.clock.Now()
	task := &generationdomain.Task{
		ID:             s.genID.Generate(),
		TaskID:         req.TaskID,
		OwnerID:        req.OwnerID,
		SubjectID:      req.SubjectID,
		SubscriptionID: req.SubscriptionID,
		ProviderType:   req.ProviderType,
		CreditCost:     req.CreditCost,
		OutputCount:    req.OutputCount,
		QueueEntryID:   req.QueueEntryID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.InsertTask(ctx, tx, task)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if !inserted {
		existing, err := s.repo.FindTask(ctx, tx, req.TaskID)
		if err != nil {
			return nil, err
		}
		if existing != nil && (existing.OutputCount != req.OutputCount || existing.SubjectID != req.SubjectID) {
			s.log.Warn("task replayed with different parameters, keeping stored task",
				zap.String("task_id", req.TaskID),
				zap.Int("stored_output_count", existing.OutputCount),
				zap.Int("requested_output_count", req.OutputCount),
			)
		}
		return s.repo.ListOutputs(ctx, tx, req.TaskID)
	}

	outputs := make([]generationdomain.Output, 0, req.OutputCount)
	for i := 0; i < req.OutputCount; i++ {
		outputs = append(outputs, generationdomain.Output{
			ID:        s.genID.Generate(),
			TaskID:    req.TaskID,
			Index:     i,
			OwnerID:   req.OwnerID,
			SubjectID: req.SubjectID,
			Status:    generationdomain.OutputStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := s.repo.InsertOutputs(ctx, tx, outputs); err != nil {
		return nil, fmt.Errorf("insert outputs: %w", err)
	}

	s.log.Info("pending outputs created",
		zap.String("task_id", req.TaskID),
		zap.String("provider_type", req.ProviderType),
		zap.Int("output_count", req.OutputCount),
	)
	return s.repo.ListOutputs(ctx, tx, req.TaskID)
}

// CompleteTask reconciles a completion callback against the task's outputs by position.
// Only pending outputs change, so redelivery of the same callback is a no-op.
func (s *Service) CompleteTask(ctx context.Context, taskID string, results []generationdomain.Result) (generationdomain.CompletionResult, error) {
	ctx, span := tracing.Tracer("generation").Start(ctx, "generation.complete_task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID), attribute.Int("results.count", len(results)))

	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return generationdomain.CompletionResult{}, generationdomain.ErrInvalidTaskID
	}

	result := generationdomain.CompletionResult{TaskID: taskID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = generationdomain.CompletionResult{TaskID: taskID}

		outputs, err := s.repo.ListOutputs(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if len(outputs) == 0 {
			result.Unknown = true
			return nil
		}

		now := s.clock.Now()
		primaryRef := ""
		for i, output := range outputs {
			if output.Status != generationdomain.OutputStatusPending {
				continue
			}

			updates, ready := outputUpdates(i, results, now)
			rows, err := s.repo.TransitionOutput(ctx, tx, output.ID, updates)
			if err != nil {
				return fmt.Errorf("transition output %d: %w", output.Index, err)
			}
			if rows == 0 {
				continue
			}
			if ready {
				result.Readied++
				if i == 0 {
					primaryRef = results[0].MediaRef
				}
			} else {
				result.Failed++
			}
		}

		if primaryRef != "" {
			if err := s.subjects.SetPrimaryResultTx(ctx, tx, outputs[0].SubjectID, taskID, primaryRef); err != nil {
				return fmt.Errorf("set primary result: %w", err)
			}
			result.PrimaryUpdated = true
		}

		readyTotal, err := s.repo.CountOutputs(ctx, tx, taskID, generationdomain.OutputStatusReady)
		if err != nil {
			return err
		}
		result.ReadyTotal = int(readyTotal)

		if result.ReadyTotal == 0 && result.Failed > 0 {
			refund, err := s.refunds.RefundUnfulfilledTaskTx(ctx, tx, taskID, refunddomain.ReasonNoOutputsReady)
			if err != nil {
				return fmt.Errorf("refund unfulfilled task: %w", err)
			}
			result.Refunded = refund.Refunded
		}
		return nil
	})
	if err != nil {
		return generationdomain.CompletionResult{}, err
	}

	if result.Unknown {
		s.log.Info("completion for unknown task ignored", zap.String("task_id", taskID))
		return result, nil
	}
	s.log.Info("task completed",
		zap.String("task_id", taskID),
		zap.Int("readied", result.Readied),
		zap.Int("failed", result.Failed),
		zap.Int("ready_total", result.ReadyTotal),
		zap.Bool("primary_updated", result.PrimaryUpdated),
		zap.Bool("refunded", result.Refunded),
	)
	return result, nil
}

func (s *Service) FailTask(ctx context.Context, taskID, reason string) (generationdomain.FailureResult, error) {
	refund, err := s.refunds.RefundTaskFailure(ctx, taskID, reason)
	if err != nil {
		if errors.Is(err, refunddomain.ErrTaskNotFound) {
			s.log.Info("failure for unknown task ignored", zap.String("task_id", taskID))
			return generationdomain.FailureResult{}, nil
		}
		if errors.Is(err, refunddomain.ErrInvalidRefundKey) {
			return generationdomain.FailureResult{}, generationdomain.ErrInvalidTaskID
		}
		return generationdomain.FailureResult{}, err
	}

	s.log.Info("task failed",
		zap.String("task_id", taskID),
		zap.String("reason", reason),
		zap.Bool("already_failed", refund.AlreadyFailed),
		zap.Bool("refunded", refund.Refunded),
	)
	return generationdomain.FailureResult{AlreadyFailed: refund.AlreadyFailed, Refunded: refund.Refunded}, nil
}

// GetTask returns the task with its outputs. A non-empty ownerID restricts the lookup to that owner.
func (s *Service) GetTask(ctx context.Context, taskID, ownerID string) (*generationdomain.TaskView, error) {
	task, err := s.repo.FindTask(ctx, s.db, strings.TrimSpace(taskID))
	if err != nil {
		return nil, err
	}
	if task == nil || (ownerID != "" && task.OwnerID != ownerID) {
		return nil, generationdomain.ErrTaskNotFound
	}
	outputs, err := s.repo.ListOutputs(ctx, s.db, task.TaskID)
	if err != nil {
		return nil, err
	}
	view := toTaskView(task, outputs)
	return &view, nil
}

func (s *Service) ListTasks(ctx context.Context, req generationdomain.ListTasksRequest) (generationdomain.ListTasksResponse, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return generationdomain.ListTasksResponse{}, generationdomain.ErrInvalidOwner
	}

	filter := generationdomain.TaskFilter{
		OwnerID:   req.OwnerID,
		SubjectID: req.SubjectID,
		Limit:     req.Limit(),
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return generationdomain.ListTasksResponse{}, generationdomain.ErrInvalidPageToken
		}
		filter.Cursor = cursor
	}

	tasks, err := s.repo.ListTasks(ctx, s.db, filter)
	if err != nil {
		return generationdomain.ListTasksResponse{}, err
	}
	page, pageInfo, err := pagination.BuildCursorPageInfo(tasks, filter.Limit, func(t *generationdomain.Task) pagination.Cursor {
		return pagination.Cursor{ID: t.ID.String(), CreatedAt: t.CreatedAt.Format(time.RFC3339Nano)}
	})
	if err != nil {
		return generationdomain.ListTasksResponse{}, err
	}

	views := make([]generationdomain.TaskView, 0, len(page))
	for _, task := range page {
		outputs, err := s.repo.ListOutputs(ctx, s.db, task.TaskID)
		if err != nil {
			return generationdomain.ListTasksResponse{}, err
		}
		views = append(views, toTaskView(task, outputs))
	}
	return generationdomain.ListTasksResponse{Tasks: views, PageInfo: pageInfo}, nil
}

// HasRecentInFlight reports pending outputs on the subject created within window. It is an
// existence check, not a constraint, so two racing requests can both pass.
func (s *Service) HasRecentInFlight(ctx context.Context, subjectID snowflake.ID, window time.Duration) (bool, error) {
	if subjectID == 0 || window <= 0 {
		return false, nil
	}
	return s.repo.HasPendingSince(ctx, s.db, subjectID, s.clock.Now().Add(-window))
}

func outputUpdates(i int, results []generationdomain.Result, now time.Time) (map[string]any, bool) {
	if i >= len(results) {
		return map[string]any{
			"status":     generationdomain.OutputStatusFailed,
			"error":      errMissingResult,
			"updated_at": now,
		}, false
	}

	res := results[i]
	if strings.TrimSpace(res.MediaRef) == "" {
		return map[string]any{
			"status":     generationdomain.OutputStatusFailed,
			"error":      errMalformedResult,
			"updated_at": now,
		}, false
	}

	updates := map[string]any{
		"status":     generationdomain.OutputStatusReady,
		"result_ref": res.MediaRef,
		"updated_at": now,
	}
	if res.Title != "" {
		updates["title"] = res.Title
	}
	if res.DurationSeconds != nil {
		updates["duration_seconds"] = *res.DurationSeconds
	}
	if res.ID != "" {
		updates["provider_result_id"] = res.ID
	}
	return updates, true
}

func toTaskView(task *generationdomain.Task, outputs []generationdomain.Output) generationdomain.TaskView {
	view := generationdomain.TaskView{
		TaskID:         task.TaskID,
		OwnerID:        task.OwnerID,
		SubjectID:      task.SubjectID.String(),
		SubscriptionID: task.SubscriptionID.String(),
		ProviderType:   task.ProviderType,
		CreditCost:     task.CreditCost,
		Outputs:        make([]generationdomain.OutputView, 0, len(outputs)),
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}

	pending, ready := 0, 0
	for _, o := range outputs {
		switch o.Status {
		case generationdomain.OutputStatusPending:
			pending++
		case generationdomain.OutputStatusReady:
			ready++
		}
		view.Outputs = append(view.Outputs, generationdomain.OutputView{
			Index:           o.Index,
			Status:          string(o.Status),
			ResultRef:       o.ResultRef,
			Title:           o.Title,
			DurationSeconds: o.DurationSeconds,
			Error:           o.Error,
		})
	}

	switch {
	case pending > 0:
		view.Status = string(generationdomain.OutputStatusPending)
	case ready > 0:
		view.Status = string(generationdomain.OutputStatusReady)
	default:
		view.Status = string(generationdomain.OutputStatusFailed)
	}
	return view
}
