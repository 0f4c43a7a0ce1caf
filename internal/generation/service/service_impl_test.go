package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	"github.com/smallbiznis/mediaforge/internal/generation/repository"
	refundrepository "github.com/smallbiznis/mediaforge/internal/refund/repository"
	refundservice "github.com/smallbiznis/mediaforge/internal/refund/service"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	subjectservice "github.com/smallbiznis/mediaforge/internal/subject/service"
	"github.com/smallbiznis/mediaforge/internal/testutil"
	"github.com/smallbiznis/mediaforge/internal/tier"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	usagerepository "github.com/smallbiznis/mediaforge/internal/usage/repository"
	usageservice "github.com/smallbiznis/mediaforge/internal/usage/service"
	"github.com/smallbiznis/mediaforge/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc          generationdomain.Service
	db           *gorm.DB
	clock        *clock.FakeClock
	subjectID    snowflake.ID
	subscription snowflake.ID
}

func TestCompleteTaskShortResultListFailsTrailingOutputs(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	_, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 2))
	require.NoError(t, err)

	res, err := f.svc.CompleteTask(ctx, "t1", []generationdomain.Result{{ID: "a", MediaRef: "https://cdn/trackA.mp3", Title: "A"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Readied)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.PrimaryUpdated)
	assert.False(t, res.Refunded)

	outputs := f.outputs(t, "t1")
	require.Len(t, outputs, 2)
	assert.Equal(t, generationdomain.OutputStatusReady, outputs[0].Status)
	require.NotNil(t, outputs[0].ResultRef)
	assert.Equal(t, "https://cdn/trackA.mp3", *outputs[0].ResultRef)
	assert.Equal(t, generationdomain.OutputStatusFailed, outputs[1].Status)

	var subject subjectdomain.Subject
	require.NoError(t, f.db.First(&subject, "id = ?", f.subjectID).Error)
	require.NotNil(t, subject.PrimaryResultRef)
	assert.Equal(t, "https://cdn/trackA.mp3", *subject.PrimaryResultRef)
	assert.Equal(t, 1, f.consumed(t))
}

func TestCompleteTaskIsIdempotent(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()
	results := []generationdomain.Result{{MediaRef: "https://cdn/a.mp3"}, {MediaRef: "https://cdn/b.mp3"}}

	_, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 2))
	require.NoError(t, err)

	first, err := f.svc.CompleteTask(ctx, "t1", results)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Readied)
	before := f.outputs(t, "t1")

	second, err := f.svc.CompleteTask(ctx, "t1", results)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Readied)
	assert.Equal(t, 0, second.Failed)
	assert.False(t, second.PrimaryUpdated)
	assert.Equal(t, 2, second.ReadyTotal)

	after := f.outputs(t, "t1")
	for i := range before {
		assert.Equal(t, before[i].Status, after[i].Status)
		assert.Equal(t, before[i].ResultRef, after[i].ResultRef)
	}
}

func TestCompleteTaskIgnoresExtraResults(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	_, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 1))
	require.NoError(t, err)

	res, err := f.svc.CompleteTask(ctx, "t1", []generationdomain.Result{
		{MediaRef: "https://cdn/a.mp3"}, {MediaRef: "https://cdn/b.mp3"}, {MediaRef: "https://cdn/c.mp3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Readied)
	assert.Len(t, f.outputs(t, "t1"), 1)
}

func TestCompleteTaskWithoutUsableResultsRefundsOnce(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	_, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 2))
	require.NoError(t, err)

	res, err := f.svc.CompleteTask(ctx, "t1", []generationdomain.Result{{ID: "broken"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Readied)
	assert.Equal(t, 2, res.Failed)
	assert.True(t, res.Refunded)
	assert.False(t, res.PrimaryUpdated)
	assert.Equal(t, 0, f.consumed(t))

	for _, o := range f.outputs(t, "t1") {
		assert.Equal(t, generationdomain.OutputStatusFailed, o.Status)
	}

	again, err := f.svc.CompleteTask(ctx, "t1", []generationdomain.Result{{ID: "broken"}})
	require.NoError(t, err)
	assert.False(t, again.Refunded)

	fail, err := f.svc.FailTask(ctx, "t1", "provider_error")
	require.NoError(t, err)
	assert.True(t, fail.AlreadyFailed)
	assert.False(t, fail.Refunded)
	assert.Equal(t, 0, f.consumed(t))
}

func TestCompleteTaskUnknownTaskIsNoop(t *testing.T) {
	f := setupGeneration(t)

	res, err := f.svc.CompleteTask(context.Background(), "missing", []generationdomain.Result{{MediaRef: "x"}})
	require.NoError(t, err)
	assert.True(t, res.Unknown)

	_, err = f.svc.CompleteTask(context.Background(), " ", nil)
	assert.ErrorIs(t, err, generationdomain.ErrInvalidTaskID)
}

func TestCreatePendingOutputsValidatesAndReplays(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	_, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 0))
	assert.ErrorIs(t, err, generationdomain.ErrInvalidOutputCount)

	first, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 2))
	require.NoError(t, err)
	require.Len(t, first, 2)

	replay, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 5))
	require.NoError(t, err)
	require.Len(t, replay, 2)
	assert.Equal(t, first[0].ID, replay[0].ID)
	assert.Equal(t, first[1].ID, replay[1].ID)
}

func TestFailTaskRefundsExactlyOnce(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	_, err := f.svc.CreatePendingOutputs(ctx, f.request("t1", 2))
	require.NoError(t, err)

	first, err := f.svc.FailTask(ctx, "t1", "provider_error")
	require.NoError(t, err)
	assert.False(t, first.AlreadyFailed)
	assert.True(t, first.Refunded)
	assert.Equal(t, 0, f.consumed(t))

	second, err := f.svc.FailTask(ctx, "t1", "provider_error")
	require.NoError(t, err)
	assert.True(t, second.AlreadyFailed)
	assert.False(t, second.Refunded)
	assert.Equal(t, 0, f.consumed(t))

	var refunds int64
	require.NoError(t, f.db.Table("credit_refunds").Count(&refunds).Error)
	assert.EqualValues(t, 1, refunds)

	unknown, err := f.svc.FailTask(ctx, "missing", "")
	require.NoError(t, err)
	assert.False(t, unknown.Refunded)
}

func TestHasRecentInFlightHonoursWindow(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	inFlight, err := f.svc.HasRecentInFlight(ctx, f.subjectID, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, inFlight)

	_, err = f.svc.CreatePendingOutputs(ctx, f.request("t1", 1))
	require.NoError(t, err)

	inFlight, err = f.svc.HasRecentInFlight(ctx, f.subjectID, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, inFlight)

	f.clock.Advance(11 * time.Minute)
	inFlight, err = f.svc.HasRecentInFlight(ctx, f.subjectID, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, inFlight)
}

func TestGetAndListTasks(t *testing.T) {
	f := setupGeneration(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := f.svc.CreatePendingOutputs(ctx, f.request(id, 1))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	view, err := f.svc.GetTask(ctx, "t2", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "pending", view.Status)
	assert.Len(t, view.Outputs, 1)

	_, err = f.svc.GetTask(ctx, "t2", "owner-2")
	assert.ErrorIs(t, err, generationdomain.ErrTaskNotFound)

	page, err := f.svc.ListTasks(ctx, generationdomain.ListTasksRequest{
		OwnerID:    "owner-1",
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 2)
	assert.Equal(t, "t3", page.Tasks[0].TaskID)
	assert.True(t, page.PageInfo.HasMore)

	next, err := f.svc.ListTasks(ctx, generationdomain.ListTasksRequest{
		OwnerID:    "owner-1",
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, next.Tasks, 1)
	assert.Equal(t, "t1", next.Tasks[0].TaskID)
	assert.False(t, next.PageInfo.HasMore)
}

func setupGeneration(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenSQLite(t)
	node := testutil.MustNode(t)
	clk := clock.NewFakeClock(baseTime)
	log := zap.NewNop()

	subscriptionID := node.Generate()
	require.NoError(t, db.Create(&usagedomain.Subscription{
		ID:              subscriptionID,
		OwnerID:         "owner-1",
		Tier:            string(tier.Monthly),
		Status:          usagedomain.SubscriptionStatusActive,
		ConsumedCredits: 1,
		PeriodStart:     baseTime,
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}).Error)

	subjectID := node.Generate()
	require.NoError(t, db.Create(&subjectdomain.Subject{
		ID: subjectID, OwnerID: "owner-1", Prompt: "rainy day jazz", CreatedAt: baseTime, UpdatedAt: baseTime,
	}).Error)

	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: usagerepository.Provide(),
	})
	repo := repository.Provide()
	refunds := refundservice.NewService(refundservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: refundrepository.Provide(), Generations: repo, Usage: usage,
	})
	subjects := subjectservice.NewService(subjectservice.ServiceParam{DB: db, Log: log, Clock: clk})

	svc := NewService(ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: repo, Subjects: subjects, Refunds: refunds,
	})
	return &fixture{svc: svc, db: db, clock: clk, subjectID: subjectID, subscription: subscriptionID}
}

func (f *fixture) request(taskID string, outputs int) generationdomain.CreatePendingRequest {
	return generationdomain.CreatePendingRequest{
		TaskID:         taskID,
		OwnerID:        "owner-1",
		SubjectID:      f.subjectID,
		SubscriptionID: f.subscription,
		ProviderType:   "song",
		CreditCost:     1,
		OutputCount:    outputs,
	}
}

func (f *fixture) outputs(t *testing.T, taskID string) []generationdomain.Output {
	t.Helper()
	var outputs []generationdomain.Output
	require.NoError(t, f.db.Where("task_id = ?", taskID).Order("output_index").Find(&outputs).Error)
	return outputs
}

func (f *fixture) consumed(t *testing.T) int {
	t.Helper()
	var sub usagedomain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", f.subscription).Error)
	return sub.ConsumedCredits
}
