package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/tier"
	"gorm.io/gorm"
)

// ReasonLimitReached is returned when a reservation is denied by the tier limit.
const ReasonLimitReached = "Usage limit reached"

type ReserveResult struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	Tier        string    `json:"tier"`
	Consumed    int       `json:"consumed"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// UsageSnapshot is a read-only view; it never persists a period rollover.
type UsageSnapshot struct {
	SubscriptionID string    `json:"subscription_id"`
	OwnerID        string    `json:"owner_id"`
	Tier           string    `json:"tier"`
	Status         string    `json:"status"`
	Consumed       int       `json:"consumed"`
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	// PeriodElapsed means the counters predate a rollover the next reservation will apply.
	PeriodElapsed bool `json:"period_elapsed"`
}

type TierChange struct {
	SubscriptionID snowflake.ID
	Tier           tier.Tier
	Status         SubscriptionStatus
	ProductID      string
	Store          string
	EntitlementIDs []string
	ExpiresAt      *time.Time
}

type TierChangeResult struct {
	Reset        bool      `json:"reset"`
	PreviousTier tier.Tier `json:"previous_tier"`
	Tier         tier.Tier `json:"tier"`
}

type Service interface {
	ReserveCredit(ctx context.Context, subscriptionID snowflake.ID, cost int) (ReserveResult, error)
	RefundCredit(ctx context.Context, subscriptionID snowflake.ID, cost int) error
	RefundCreditTx(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, cost int) error
	Snapshot(ctx context.Context, subscriptionID snowflake.ID) (UsageSnapshot, error)
	ApplyTierChange(ctx context.Context, change TierChange) (TierChangeResult, error)
	EnsureSubscription(ctx context.Context, ownerID string, t tier.Tier) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID snowflake.ID) (*Subscription, error)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Subscription, error)
	FindByOwner(ctx context.Context, db *gorm.DB, ownerID string) (*Subscription, error)
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	// UpdateVersioned applies updates only when the stored version still matches and bumps it.
	UpdateVersioned(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, updates map[string]any) (int64, error)
	DecrementConsumed(ctx context.Context, db *gorm.DB, id snowflake.ID, cost int, now time.Time) (int64, error)
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidOwner         = errors.New("invalid_owner")
	ErrInvalidCost          = errors.New("invalid_cost")
	ErrConcurrentUpdate     = errors.New("subscription_concurrent_update")
)
