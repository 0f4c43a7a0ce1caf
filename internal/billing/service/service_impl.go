package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/mediaforge/internal/billing/domain"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	"github.com/smallbiznis/mediaforge/internal/tier"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Providers *config.ProvidersConfigHolder
	Repo      billingdomain.Repository
	Usage     usagedomain.Service
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	providers *config.ProvidersConfigHolder
	repo      billingdomain.Repository
	usage     usagedomain.Service
	metrics   *obsmetrics.Metrics
	secret    string
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billing.webhook"),
		genID:     p.GenID,
		clock:     p.Clock,
		providers: p.Providers,
		repo:      p.Repo,
		usage:     p.Usage,
		metrics:   p.Metrics,
		secret:    strings.TrimSpace(p.Config.BillingWebhookSecret),
	}
}

// Ingest applies a billing subscription event to the owner's ledger. Every recognized event,
// including a replay, succeeds so the provider stops retrying; only store failures surface.
func (s *Service) Ingest(ctx context.Context, headers http.Header, body []byte) (billingdomain.IngestResult, error) {
	if !s.authorized(headers) {
		s.metrics.RecordBillingEvent(ctx, "", "unauthorized")
		return billingdomain.IngestResult{}, billingdomain.ErrUnauthorized
	}
	if !gjson.ValidBytes(body) {
		return billingdomain.IngestResult{}, billingdomain.ErrInvalidPayload
	}

	event := parseEvent(body)
	result := billingdomain.IngestResult{EventType: event.Type}
	log := s.log.With(
		zap.String("dedupe_key", event.Key),
		zap.String("event_type", event.Type),
		zap.String("owner_id", event.AppUserID),
	)

	if event.AppUserID == "" || event.ProductID == "" {
		result.Status = billingdomain.StatusIgnored
		s.metrics.RecordBillingEvent(ctx, event.Type, result.Status)
		log.Info("billing event ignored: missing owner or product")
		return result, nil
	}

	now := s.clock.Now()
	record := billingdomain.EventRecord{
		ID:         s.genID.Generate(),
		DedupeKey:  event.Key,
		EventType:  event.Type,
		AppUserID:  event.AppUserID,
		ProductID:  event.ProductID,
		Store:      event.Store,
		Payload:    datatypes.JSON(body),
		Status:     billingdomain.StatusReceived,
		ReceivedAt: now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return result, fmt.Errorf("record billing event: %w", err)
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Key)
		if err != nil {
			return result, fmt.Errorf("load billing event: %w", err)
		}
		if stored == nil {
			return result, billingdomain.ErrInvalidPayload
		}
		if stored.Status == billingdomain.StatusProcessed {
			result.Status = billingdomain.StatusDuplicate
			s.metrics.RecordBillingEvent(ctx, event.Type, result.Status)
			log.Info("billing event already processed")
			return result, nil
		}
	}

	sub, err := s.usage.EnsureSubscription(ctx, event.AppUserID, tier.Free)
	if err != nil {
		return result, err
	}
	target, status := s.resolveTier(event, sub, now)

	change, err := s.usage.ApplyTierChange(ctx, usagedomain.TierChange{
		SubscriptionID: sub.ID,
		Tier:           target,
		Status:         status,
		ProductID:      event.ProductID,
		Store:          event.Store,
		EntitlementIDs: event.EntitlementIDs,
		ExpiresAt:      event.ExpiresAt,
	})
	if err != nil {
		return result, err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return result, fmt.Errorf("mark billing event processed: %w", err)
	}

	result.Status = billingdomain.StatusProcessed
	result.SubscriptionID = sub.ID.String()
	result.Tier = string(change.Tier)
	result.Reset = change.Reset
	s.metrics.RecordBillingEvent(ctx, event.Type, result.Status)
	log.Info("billing event applied",
		zap.String("subscription_id", result.SubscriptionID),
		zap.String("previous_tier", string(change.PreviousTier)),
		zap.String("tier", result.Tier),
		zap.Bool("reset", change.Reset),
	)
	return result, nil
}

// resolveTier drops expired subscriptions to free and keeps a cancelled one on its tier until
// the expiration event arrives.
func (s *Service) resolveTier(event billingdomain.Event, sub *usagedomain.Subscription, now time.Time) (tier.Tier, usagedomain.SubscriptionStatus) {
	eventType := strings.ToUpper(event.Type)
	if eventType == billingdomain.EventTypeExpiration || (event.ExpiresAt != nil && event.ExpiresAt.Before(now)) {
		return tier.Free, usagedomain.SubscriptionStatusExpired
	}
	if eventType == billingdomain.EventTypeCancellation {
		return tier.Normalize(sub.Tier), usagedomain.SubscriptionStatusCancelled
	}

	var mapping map[string]string
	if s.providers != nil {
		mapping = s.providers.Get().Products
	}
	return tier.ResolveProduct(event.ProductID, event.EntitlementIDs, mapping), usagedomain.SubscriptionStatusActive
}

func (s *Service) authorized(headers http.Header) bool {
	if s.secret == "" {
		return true
	}
	got := strings.TrimSpace(headers.Get("Authorization"))
	if after, ok := strings.CutPrefix(got, "Bearer "); ok {
		got = strings.TrimSpace(after)
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

func parseEvent(body []byte) billingdomain.Event {
	root := gjson.ParseBytes(body)
	if nested := root.Get("event"); nested.IsObject() {
		root = nested
	}

	event := billingdomain.Event{
		Type:      strings.ToUpper(firstString(root, "eventType", "type")),
		AppUserID: firstString(root, "appUserId", "app_user_id"),
		ProductID: firstString(root, "productId", "product_id"),
		Store:     firstString(root, "store"),
	}
	if ms := firstValue(root, "expirationAtMs", "expiration_at_ms"); ms.Exists() && ms.Int() > 0 {
		expiresAt := time.UnixMilli(ms.Int()).UTC()
		event.ExpiresAt = &expiresAt
	}
	entitlements := firstValue(root, "entitlementIds", "entitlement_ids")
	if entitlements.IsArray() {
		event.EntitlementIDs = []string{}
		for _, item := range entitlements.Array() {
			if id := strings.TrimSpace(item.String()); id != "" {
				event.EntitlementIDs = append(event.EntitlementIDs, id)
			}
		}
	}

	if id := firstString(root, "id"); id != "" {
		event.Key = "event:" + id
	} else {
		sum := sha256.Sum256(body)
		event.Key = "sha256:" + hex.EncodeToString(sum[:])
	}
	return event
}

func firstValue(root gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if value := root.Get(path); value.Exists() && value.Type != gjson.Null {
			return value
		}
	}
	return gjson.Result{}
}

func firstString(root gjson.Result, paths ...string) string {
	return strings.TrimSpace(firstValue(root, paths...).String())
}
