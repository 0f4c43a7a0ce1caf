package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/mediaforge/internal/clock"
	obsmetrics "github.com/smallbiznis/mediaforge/internal/observability/metrics"
	"github.com/smallbiznis/mediaforge/internal/observability/tracing"
	"github.com/smallbiznis/mediaforge/internal/tier"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"github.com/smallbiznis/mediaforge/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWriteAttempts = 5

var errVersionConflict = errors.New("subscription version conflict")

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// ReserveCredit consumes cost credits when they fit under the subscription limit. Period rollover
// is folded into the same versioned write as the increment.
func (s *Service) ReserveCredit(ctx context.Context, subscriptionID snowflake.ID, cost int) (usagedomain.ReserveResult, error) {
	ctx, span := tracing.Tracer("usage").Start(ctx, "usage.reserve_credit")
	defer span.End()
	span.SetAttributes(attribute.Int64("subscription.id", subscriptionID.Int64()))

	if subscriptionID == 0 {
		return usagedomain.ReserveResult{}, usagedomain.ErrInvalidSubscription
	}
	if cost == 0 {
		cost = 1
	}
	if cost < 0 {
		return usagedomain.ReserveResult{}, usagedomain.ErrInvalidCost
	}

	var result usagedomain.ReserveResult
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.FindByID(ctx, tx, subscriptionID, db.SupportsRowLocking(tx))
		if err != nil {
			return err
		}
		if sub == nil {
			return usagedomain.ErrSubscriptionNotFound
		}

		now := s.clock.Now()
		policy := sub.Policy()
		consumed := sub.ConsumedCredits
		periodStart := sub.PeriodStart
		if now.After(periodStart.Add(policy.PeriodDuration)) {
			consumed = 0
			periodStart = now
		}
		limit := sub.Limit()
		periodEnd := periodStart.Add(policy.PeriodDuration)

		// A reservation never takes consumed past the limit, whatever its cost.
		if consumed+cost > limit {
			result = usagedomain.ReserveResult{
				Allowed:     false,
				Reason:      usagedomain.ReasonLimitReached,
				Tier:        sub.Tier,
				Consumed:    consumed,
				Limit:       limit,
				Remaining:   remaining(limit, consumed),
				PeriodStart: periodStart,
				PeriodEnd:   periodEnd,
			}
			return nil
		}

		consumed += cost
		rows, err := s.repo.UpdateVersioned(ctx, tx, sub.ID, sub.Version, map[string]any{
			"consumed_credits": consumed,
			"period_start":     periodStart,
			"last_verified_at": now,
			"updated_at":       now,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errVersionConflict
		}

		result = usagedomain.ReserveResult{
			Allowed:     true,
			Tier:        sub.Tier,
			Consumed:    consumed,
			Limit:       limit,
			Remaining:   remaining(limit, consumed),
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
		return nil
	})
	if err != nil {
		return usagedomain.ReserveResult{}, err
	}

	if result.Allowed {
		s.metrics.RecordCreditReserved(ctx, result.Tier, cost)
	} else {
		s.metrics.RecordCreditDenied(ctx, result.Tier, result.Reason)
		s.log.Info("credit reservation denied",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Int("consumed", result.Consumed),
			zap.Int("limit", result.Limit),
		)
	}
	return result, nil
}

// RefundCredit returns cost credits, flooring at zero. A missing subscription is a no-op.
func (s *Service) RefundCredit(ctx context.Context, subscriptionID snowflake.ID, cost int) error {
	return s.RefundCreditTx(ctx, s.db, subscriptionID, cost)
}

func (s *Service) RefundCreditTx(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, cost int) error {
	if cost <= 0 || subscriptionID == 0 {
		return nil
	}
	rows, err := s.repo.DecrementConsumed(ctx, tx, subscriptionID, cost, s.clock.Now())
	if err != nil {
		return fmt.Errorf("refund credit: %w", err)
	}
	if rows == 0 {
		s.log.Warn("refund skipped, subscription not found",
			zap.String("subscription_id", subscriptionID.String()),
		)
	}
	return nil
}

// Snapshot reads counters without applying rollover.
func (s *Service) Snapshot(ctx context.Context, subscriptionID snowflake.ID) (usagedomain.UsageSnapshot, error) {
	if subscriptionID == 0 {
		return usagedomain.UsageSnapshot{}, usagedomain.ErrInvalidSubscription
	}
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID, false)
	if err != nil {
		return usagedomain.UsageSnapshot{}, err
	}
	if sub == nil {
		return usagedomain.UsageSnapshot{}, usagedomain.ErrSubscriptionNotFound
	}

	limit := sub.Limit()
	return usagedomain.UsageSnapshot{
		SubscriptionID: sub.ID.String(),
		OwnerID:        sub.OwnerID,
		Tier:           sub.Tier,
		Status:         string(sub.Status),
		Consumed:       sub.ConsumedCredits,
		Limit:          limit,
		Remaining:      remaining(limit, sub.ConsumedCredits),
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd(),
		PeriodElapsed:  sub.PeriodElapsed(s.clock.Now()),
	}, nil
}

// ApplyTierChange resets the period whenever the resolved tier differs from the stored one.
// Same-tier changes only refresh billing metadata.
func (s *Service) ApplyTierChange(ctx context.Context, change usagedomain.TierChange) (usagedomain.TierChangeResult, error) {
	if change.SubscriptionID == 0 {
		return usagedomain.TierChangeResult{}, usagedomain.ErrInvalidSubscription
	}
	resolved := tier.Normalize(string(change.Tier))

	var result usagedomain.TierChangeResult
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.FindByID(ctx, tx, change.SubscriptionID, db.SupportsRowLocking(tx))
		if err != nil {
			return err
		}
		if sub == nil {
			return usagedomain.ErrSubscriptionNotFound
		}

		now := s.clock.Now()
		previous := tier.Normalize(sub.Tier)
		updates := map[string]any{
			"last_verified_at": now,
			"updated_at":       now,
		}
		if change.Status != "" {
			updates["status"] = change.Status
		}
		if change.ProductID != "" {
			updates["product_id"] = change.ProductID
		}
		if change.Store != "" {
			updates["store"] = change.Store
		}
		if change.ExpiresAt != nil {
			updates["expires_at"] = *change.ExpiresAt
		}
		if change.EntitlementIDs != nil {
			updates["entitlement_ids"] = normalizeEntitlements(change.EntitlementIDs)
		}

		reset := resolved != previous
		if reset {
			updates["tier"] = string(resolved)
			updates["consumed_credits"] = 0
			updates["period_start"] = now
			updates["custom_credit_limit"] = tier.CustomLimit(resolved)
		}

		rows, err := s.repo.UpdateVersioned(ctx, tx, sub.ID, sub.Version, updates)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errVersionConflict
		}
		result = usagedomain.TierChangeResult{Reset: reset, PreviousTier: previous, Tier: resolved}
		return nil
	})
	if err != nil {
		return usagedomain.TierChangeResult{}, err
	}

	s.log.Info("tier change applied",
		zap.String("subscription_id", change.SubscriptionID.String()),
		zap.String("previous_tier", string(result.PreviousTier)),
		zap.String("tier", string(result.Tier)),
		zap.Bool("reset", result.Reset),
	)
	return result, nil
}

func (s *Service) EnsureSubscription(ctx context.Context, ownerID string, t tier.Tier) (*usagedomain.Subscription, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, usagedomain.ErrInvalidOwner
	}

	existing, err := s.repo.FindByOwner(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	resolved := tier.Normalize(string(t))
	now := s.clock.Now()
	sub := &usagedomain.Subscription{
		ID:                s.genID.Generate(),
		OwnerID:           ownerID,
		Tier:              string(resolved),
		Status:            usagedomain.SubscriptionStatusActive,
		PeriodStart:       now,
		CustomCreditLimit: tier.CustomLimit(resolved),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	// A concurrent insert for the same owner wins; read back whichever row exists.
	stored, err := s.repo.FindByOwner(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, usagedomain.ErrSubscriptionNotFound
	}
	if stored.ID == sub.ID {
		s.log.Info("subscription created",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("tier", sub.Tier),
		)
	}
	return stored, nil
}

func (s *Service) GetSubscription(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, usagedomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errVersionConflict) && !db.IsRetryableTxErr(err) {
			return err
		}
		lastErr = err
		s.log.Debug("retrying subscription write", zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return fmt.Errorf("%w: %v", usagedomain.ErrConcurrentUpdate, lastErr)
}

func remaining(limit, consumed int) int {
	if consumed >= limit {
		return 0
	}
	return limit - consumed
}

func normalizeEntitlements(ids []string) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
