package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	billingdomain "github.com/smallbiznis/mediaforge/internal/billing/domain"
	"github.com/smallbiznis/mediaforge/internal/billing/repository"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
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

type fixture struct {
	svc billingdomain.Service
	db  *gorm.DB
}

func setupBilling(t *testing.T, secret string) *fixture {
	t.Helper()

	db := testutil.OpenSQLite(t, "subscriptions", "billing_webhook_events")
	node := testutil.MustNode(t)
	clk := clock.NewFakeClock(baseTime)
	log := zap.NewNop()

	holder, err := config.NewStaticProvidersConfig(config.ProvidersConfig{
		Providers: map[string]config.ProviderSettings{
			"song": {Kind: "audio", ConcurrencyLimit: 1},
		},
		Products: map[string]string{"com.mediaforge.pro": "weekly"},
	})
	require.NoError(t, err)

	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: usagerepository.Provide(),
	})
	svc := NewService(ServiceParam{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Config:    config.Config{BillingWebhookSecret: secret},
		Providers: holder,
		Repo:      repository.Provide(),
		Usage:     usage,
	})
	return &fixture{svc: svc, db: db}
}

func (f *fixture) subscription(t *testing.T, ownerID string) *usagedomain.Subscription {
	t.Helper()
	var sub usagedomain.Subscription
	err := f.db.Where("owner_id = ?", ownerID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &sub
}

func TestIngestIgnoresEventsWithoutOwnerOrProduct(t *testing.T) {
	f := setupBilling(t, "")

	result, err := f.svc.Ingest(context.Background(), http.Header{}, []byte(`{"eventType":"RENEWAL","appUserId":"user-1"}`))
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusIgnored, result.Status)
	assert.Nil(t, f.subscription(t, "user-1"))
}

func TestIngestRejectsBadSecret(t *testing.T) {
	f := setupBilling(t, "s3cret")
	body := []byte(`{"id":"evt-1","eventType":"INITIAL_PURCHASE","appUserId":"user-1","productId":"pro_monthly"}`)

	_, err := f.svc.Ingest(context.Background(), http.Header{"Authorization": []string{"wrong"}}, body)
	assert.ErrorIs(t, err, billingdomain.ErrUnauthorized)

	result, err := f.svc.Ingest(context.Background(), http.Header{"Authorization": []string{"Bearer s3cret"}}, body)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusProcessed, result.Status)
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	f := setupBilling(t, "")

	_, err := f.svc.Ingest(context.Background(), http.Header{}, []byte(`{"eventType":`))
	assert.ErrorIs(t, err, billingdomain.ErrInvalidPayload)
}

func TestIngestPurchaseCreatesSubscriptionOnTier(t *testing.T) {
	f := setupBilling(t, "")

	result, err := f.svc.Ingest(context.Background(), http.Header{}, []byte(`{
		"event": {
			"id": "evt-1",
			"type": "INITIAL_PURCHASE",
			"app_user_id": "user-1",
			"product_id": "pro_monthly",
			"store": "APP_STORE",
			"entitlement_ids": ["pro"]
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusProcessed, result.Status)
	assert.Equal(t, string(tier.Monthly), result.Tier)
	assert.True(t, result.Reset)

	sub := f.subscription(t, "user-1")
	require.NotNil(t, sub)
	assert.Equal(t, string(tier.Monthly), sub.Tier)
	assert.Equal(t, usagedomain.SubscriptionStatusActive, sub.Status)
}

func TestIngestUsesProductMapping(t *testing.T) {
	f := setupBilling(t, "")

	result, err := f.svc.Ingest(context.Background(), http.Header{}, []byte(`{"id":"evt-1","eventType":"RENEWAL","appUserId":"user-1","productId":"com.mediaforge.pro"}`))
	require.NoError(t, err)
	assert.Equal(t, string(tier.Weekly), result.Tier)
}

func TestIngestDuplicateDoesNotResetTwice(t *testing.T) {
	f := setupBilling(t, "")
	body := []byte(`{"id":"evt-1","eventType":"INITIAL_PURCHASE","appUserId":"user-1","productId":"pro_weekly"}`)

	first, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	require.Equal(t, billingdomain.StatusProcessed, first.Status)

	require.NoError(t, f.db.Model(&usagedomain.Subscription{}).
		Where("owner_id = ?", "user-1").
		Update("consumed_credits", 3).Error)

	second, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusDuplicate, second.Status)
	assert.Equal(t, 3, f.subscription(t, "user-1").ConsumedCredits)
}

func TestIngestRecordsEventRow(t *testing.T) {
	f := setupBilling(t, "")
	body := []byte(`{"id":"evt-9","eventType":"INITIAL_PURCHASE","appUserId":"user-1","productId":"pro_weekly","store":"PLAY_STORE"}`)

	_, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)

	var record billingdomain.EventRecord
	require.NoError(t, f.db.First(&record).Error)
	assert.Equal(t, "event:evt-9", record.DedupeKey)
	assert.Equal(t, billingdomain.EventTypeInitialPurchase, record.EventType)
	assert.Equal(t, "user-1", record.AppUserID)
	assert.Equal(t, "pro_weekly", record.ProductID)
	assert.Equal(t, "PLAY_STORE", record.Store)
	assert.Equal(t, billingdomain.StatusProcessed, record.Status)
	require.NotNil(t, record.ProcessedAt)
}

func TestIngestRetriesEventLeftReceived(t *testing.T) {
	f := setupBilling(t, "")
	body := []byte(`{"id":"evt-1","eventType":"INITIAL_PURCHASE","appUserId":"user-1","productId":"pro_weekly"}`)

	_, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	// Simulate a delivery whose tier change never committed.
	require.NoError(t, f.db.Model(&billingdomain.EventRecord{}).
		Where("dedupe_key = ?", "event:evt-1").
		Updates(map[string]any{"status": billingdomain.StatusReceived, "processed_at": nil}).Error)

	result, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusProcessed, result.Status)
}

func TestIngestDedupesBodiesWithoutID(t *testing.T) {
	f := setupBilling(t, "")
	body := []byte(`{"eventType":"RENEWAL","appUserId":"user-1","productId":"pro_weekly"}`)

	_, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	result, err := f.svc.Ingest(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusDuplicate, result.Status)

	var count int64
	require.NoError(t, f.db.Model(&billingdomain.EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIngestCancellationKeepsTierUntilExpiration(t *testing.T) {
	f := setupBilling(t, "")
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, http.Header{}, []byte(`{"id":"evt-1","eventType":"INITIAL_PURCHASE","appUserId":"user-1","productId":"pro_monthly"}`))
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&usagedomain.Subscription{}).
		Where("owner_id = ?", "user-1").
		Update("consumed_credits", 4).Error)

	expires := baseTime.Add(48 * time.Hour).UnixMilli()
	cancel, err := f.svc.Ingest(ctx, http.Header{}, []byte(`{"id":"evt-2","eventType":"CANCELLATION","appUserId":"user-1","productId":"pro_monthly","expirationAtMs":`+itoa(expires)+`}`))
	require.NoError(t, err)
	assert.Equal(t, string(tier.Monthly), cancel.Tier)
	assert.False(t, cancel.Reset)

	sub := f.subscription(t, "user-1")
	assert.Equal(t, usagedomain.SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, 4, sub.ConsumedCredits)

	expired, err := f.svc.Ingest(ctx, http.Header{}, []byte(`{"id":"evt-3","eventType":"EXPIRATION","appUserId":"user-1","productId":"pro_monthly"}`))
	require.NoError(t, err)
	assert.Equal(t, string(tier.Free), expired.Tier)
	assert.True(t, expired.Reset)

	sub = f.subscription(t, "user-1")
	assert.Equal(t, usagedomain.SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, 0, sub.ConsumedCredits)
}

func TestIngestPastExpiryDropsToFree(t *testing.T) {
	f := setupBilling(t, "")

	past := baseTime.Add(-time.Hour).UnixMilli()
	result, err := f.svc.Ingest(context.Background(), http.Header{}, []byte(`{"id":"evt-1","eventType":"RENEWAL","appUserId":"user-1","productId":"pro_monthly","expirationAtMs":`+itoa(past)+`}`))
	require.NoError(t, err)
	assert.Equal(t, string(tier.Free), result.Tier)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
