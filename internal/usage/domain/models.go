// Package domain contains the credit ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/mediaforge/internal/tier"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Subscription is the per-owner credit counter. ConsumedCredits is only written by ledger operations.
type Subscription struct {
	ID                snowflake.ID       `gorm:"primaryKey"`
	OwnerID           string             `gorm:"type:text;not null;uniqueIndex"`
	Tier              string             `gorm:"type:text;not null"`
	Status            SubscriptionStatus `gorm:"type:text;not null"`
	ConsumedCredits   int                `gorm:"not null;default:0"`
	PeriodStart       time.Time          `gorm:"not null"`
	CustomCreditLimit *int
	LastVerifiedAt    *time.Time
	ProductID         string         `gorm:"type:text"`
	Store             string         `gorm:"type:text"`
	EntitlementIDs    pq.StringArray `gorm:"type:text"`
	ExpiresAt         *time.Time
	Version           int64     `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) Policy() tier.Policy {
	return tier.Resolve(tier.Tier(s.Tier))
}

// Limit is the custom limit when set, otherwise the tier default.
func (s Subscription) Limit() int {
	if s.CustomCreditLimit != nil {
		return *s.CustomCreditLimit
	}
	return s.Policy().CreditLimit
}

func (s Subscription) PeriodEnd() time.Time {
	return s.PeriodStart.Add(s.Policy().PeriodDuration)
}

// PeriodElapsed reports whether now is past the current period.
func (s Subscription) PeriodElapsed(now time.Time) bool {
	return now.After(s.PeriodEnd())
}
