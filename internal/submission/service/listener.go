package service

import (
	"context"

	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	providerdomain "github.com/smallbiznis/mediaforge/internal/providers/domain"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ListenerParam struct {
	fx.In

	Log        *zap.Logger
	Generation generationdomain.Service
	Refunds    refunddomain.Service
}

// DispatchListener registers accepted queued submissions as pending tasks and refunds rejected ones.
type DispatchListener struct {
	log        *zap.Logger
	generation generationdomain.Service
	refunds    refunddomain.Service
}

func NewDispatchListener(p ListenerParam) dispatchdomain.SubmissionListener {
	return &DispatchListener{
		log:        p.Log.Named("submission.listener"),
		generation: p.Generation,
		refunds:    p.Refunds,
	}
}

func (l *DispatchListener) OnSubmitted(ctx context.Context, tx *gorm.DB, entry *dispatchdomain.QueueEntry, resp providerdomain.SubmitResponse) error {
	outputCount := resp.OutputCount
	if outputCount <= 0 {
		outputCount = 1
	}
	entryID := entry.ID
	_, err := l.generation.CreatePendingOutputsTx(ctx, tx, generationdomain.CreatePendingRequest{
		TaskID:         resp.TaskID,
		OwnerID:        entry.OwnerID,
		SubjectID:      entry.SubjectID,
		SubscriptionID: entry.SubscriptionID,
		ProviderType:   entry.ProviderType,
		CreditCost:     entry.CreditCost,
		OutputCount:    outputCount,
		QueueEntryID:   &entryID,
	})
	return err
}

func (l *DispatchListener) OnSubmitFailed(ctx context.Context, entry *dispatchdomain.QueueEntry, cause error) error {
	entryID := entry.ID
	result, err := l.refunds.RefundSubmission(ctx, refunddomain.SubmissionRefund{
		Key:            refunddomain.QueueKey(entry.ID),
		SubscriptionID: entry.SubscriptionID,
		QueueEntryID:   &entryID,
		Cost:           entry.CreditCost,
		Reason:         refunddomain.ReasonSubmissionFailed,
	})
	if err != nil {
		return err
	}
	if result.Refunded {
		l.log.Info("queued submission refunded",
			zap.String("queue_entry_id", entry.ID.String()),
			zap.NamedError("cause", cause),
		)
	}
	return nil
}
