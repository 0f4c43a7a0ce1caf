package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        refunddomain.Repository
	Generations generationdomain.Repository
	Usage       usagedomain.Service
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        refunddomain.Repository
	generations generationdomain.Repository
	usage       usagedomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) refunddomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		generations: p.Generations,
		usage:       p.Usage,
		metrics:     p.Metrics,
	}
}

func (s *Service) RefundTaskFailure(ctx context.Context, taskID, reason string) (refunddomain.RefundResult, error) {
	var result refunddomain.RefundResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.RefundTaskFailureTx(ctx, tx, taskID, reason)
		return err
	})
	return result, err
}

// RefundTaskFailureTx fails every still-pending output of the task and refunds its credit once.
// A task with nothing pending was already settled, so no refund is attempted.
func (s *Service) RefundTaskFailureTx(ctx context.Context, tx *gorm.DB, taskID, reason string) (refunddomain.RefundResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return refunddomain.RefundResult{}, refunddomain.ErrInvalidRefundKey
	}
	task, err := s.generations.FindTask(ctx, tx, taskID)
	if err != nil {
		return refunddomain.RefundResult{}, err
	}
	if task == nil {
		return refunddomain.RefundResult{}, refunddomain.ErrTaskNotFound
	}

	failed, err := s.generations.FailPendingOutputs(ctx, tx, taskID, failureReason(reason), s.clock.Now())
	if err != nil {
		return refunddomain.RefundResult{}, fmt.Errorf("fail pending outputs: %w", err)
	}
	if failed == 0 {
		s.log.Info("task already settled, refund skipped", zap.String("task_id", taskID))
		return refunddomain.RefundResult{AlreadyFailed: true}, nil
	}

	refunded, err := s.refundTask(ctx, tx, task, failureReason(reason))
	if err != nil {
		return refunddomain.RefundResult{}, err
	}
	return refunddomain.RefundResult{Refunded: refunded}, nil
}

func (s *Service) RefundUnfulfilledTaskTx(ctx context.Context, tx *gorm.DB, taskID, reason string) (refunddomain.RefundResult, error) {
	task, err := s.generations.FindTask(ctx, tx, strings.TrimSpace(taskID))
	if err != nil {
		return refunddomain.RefundResult{}, err
	}
	if task == nil {
		return refunddomain.RefundResult{}, refunddomain.ErrTaskNotFound
	}
	if reason == "" {
		reason = refunddomain.ReasonNoOutputsReady
	}
	refunded, err := s.refundTask(ctx, tx, task, reason)
	if err != nil {
		return refunddomain.RefundResult{}, err
	}
	return refunddomain.RefundResult{Refunded: refunded}, nil
}

// RefundSubmission returns the credit reserved for a request whose outbound submission failed.
func (s *Service) RefundSubmission(ctx context.Context, req refunddomain.SubmissionRefund) (refunddomain.RefundResult, error) {
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" || req.SubscriptionID == 0 {
		return refunddomain.RefundResult{}, refunddomain.ErrInvalidRefundKey
	}
	if req.Reason == "" {
		req.Reason = refunddomain.ReasonSubmissionFailed
	}

	var refunded bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refunded, err = s.apply(ctx, tx, &refunddomain.CreditRefund{
			ID:             s.genID.Generate(),
			IdempotencyKey: req.Key,
			SubscriptionID: req.SubscriptionID,
			QueueEntryID:   req.QueueEntryID,
			Reason:         req.Reason,
			Credits:        req.Cost,
			CreatedAt:      s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return refunddomain.RefundResult{}, err
	}
	return refunddomain.RefundResult{Refunded: refunded}, nil
}

func (s *Service) refundTask(ctx context.Context, tx *gorm.DB, task *generationdomain.Task, reason string) (bool, error) {
	taskID := task.TaskID
	return s.apply(ctx, tx, &refunddomain.CreditRefund{
		ID:             s.genID.Generate(),
		IdempotencyKey: refunddomain.TaskKey(task.TaskID),
		SubscriptionID: task.SubscriptionID,
		TaskID:         &taskID,
		QueueEntryID:   task.QueueEntryID,
		Reason:         reason,
		Credits:        task.CreditCost,
		CreatedAt:      s.clock.Now(),
	})
}

// apply refunds only when this call inserted the idempotency key.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, record *refunddomain.CreditRefund) (bool, error) {
	inserted, err := s.repo.Insert(ctx, tx, record)
	if err != nil {
		return false, fmt.Errorf("insert credit refund: %w", err)
	}
	if !inserted {
		s.log.Info("refund already applied", zap.String("idempotency_key", record.IdempotencyKey))
		return false, nil
	}
	if err := s.usage.RefundCreditTx(ctx, tx, record.SubscriptionID, record.Credits); err != nil {
		return false, err
	}

	s.metrics.RecordCreditRefunded(ctx, record.Reason, record.Credits)
	s.log.Info("credit refunded",
		zap.String("idempotency_key", record.IdempotencyKey),
		zap.String("subscription_id", record.SubscriptionID.String()),
		zap.Int("credits", record.Credits),
		zap.String("reason", record.Reason),
	)
	return true, nil
}

func failureReason(reason string) string {
	if reason = strings.TrimSpace(reason); reason != "" {
		return reason
	}
	return refunddomain.ReasonTaskFailed
}
