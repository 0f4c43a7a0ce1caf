package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	generationrepository "github.com/smallbiznis/mediaforge/internal/generation/repository"
	refunddomain "github.com/smallbiznis/mediaforge/internal/refund/domain"
	"github.com/smallbiznis/mediaforge/internal/refund/repository"
	"github.com/smallbiznis/mediaforge/internal/testutil"
	"github.com/smallbiznis/mediaforge/internal/tier"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	usagerepository "github.com/smallbiznis/mediaforge/internal/usage/repository"
	usageservice "github.com/smallbiznis/mediaforge/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRefundSubmissionIsIdempotent(t *testing.T) {
	svc, db, subID := setupRefunds(t, 3)
	ctx := context.Background()
	entryID := testutil.MustNode(t).Generate()

	req := refunddomain.SubmissionRefund{
		Key:            refunddomain.QueueKey(entryID),
		SubscriptionID: subID,
		QueueEntryID:   &entryID,
		Cost:           1,
	}

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	refunded := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RefundSubmission(ctx, req)
			if err != nil {
				errs <- err
				return
			}
			refunded <- res.Refunded
		}()
	}
	wg.Wait()
	close(errs)
	close(refunded)

	for err := range errs {
		t.Fatalf("refund submission: %v", err)
	}
	count := 0
	for ok := range refunded {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, consumed(t, db, subID))

	var stored refunddomain.CreditRefund
	require.NoError(t, db.First(&stored, "idempotency_key = ?", req.Key).Error)
	assert.Equal(t, refunddomain.ReasonSubmissionFailed, stored.Reason)
}

func TestRefundSubmissionRequiresKey(t *testing.T) {
	svc, _, subID := setupRefunds(t, 1)

	_, err := svc.RefundSubmission(context.Background(), refunddomain.SubmissionRefund{SubscriptionID: subID, Cost: 1})
	assert.ErrorIs(t, err, refunddomain.ErrInvalidRefundKey)
}

func TestRefundTaskFailureUnknownTask(t *testing.T) {
	svc, _, _ := setupRefunds(t, 1)

	_, err := svc.RefundTaskFailure(context.Background(), "missing", "")
	assert.ErrorIs(t, err, refunddomain.ErrTaskNotFound)
}

func TestRefundKeys(t *testing.T) {
	assert.Equal(t, "task:abc", refunddomain.TaskKey("abc"))
	assert.Equal(t, "queue:42", refunddomain.QueueKey(snowflake.ID(42)))
	assert.Equal(t, "direct:7", refunddomain.DirectKey(snowflake.ID(7)))
}

func setupRefunds(t *testing.T, consumedCredits int) (refunddomain.Service, *gorm.DB, snowflake.ID) {
	t.Helper()

	db := testutil.OpenSQLite(t, "subscriptions", "generation_tasks", "generation_outputs", "credit_refunds")
	node := testutil.MustNode(t)
	clk := clock.NewFakeClock(baseTime)

	subID := node.Generate()
	require.NoError(t, db.Create(&usagedomain.Subscription{
		ID:              subID,
		OwnerID:         "owner-1",
		Tier:            string(tier.Monthly),
		Status:          usagedomain.SubscriptionStatusActive,
		ConsumedCredits: consumedCredits,
		PeriodStart:     baseTime,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}).Error)

	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: usagerepository.Provide(),
	})
	svc := NewService(ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk,
		Repo: repository.Provide(), Generations: generationrepository.Provide(), Usage: usage,
	})
	return svc, db, subID
}

func consumed(t *testing.T, db *gorm.DB, id snowflake.ID) int {
	t.Helper()
	var sub usagedomain.Subscription
	require.NoError(t, db.First(&sub, "id = ?", id).Error)
	return sub.ConsumedCredits
}
