package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/mediaforge/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*usagedomain.Subscription, error) {
	stmt := db.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub usagedomain.Subscription
	err := stmt.Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindByOwner(ctx context.Context, db *gorm.DB, ownerID string) (*usagedomain.Subscription, error) {
	var sub usagedomain.Subscription
	err := db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *usagedomain.Subscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoNothing: true,
		}).
		Create(sub).Error
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, updates map[string]any) (int64, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	result := db.WithContext(ctx).
		Model(&usagedomain.Subscription{}).
		Where("id = ? AND version = ?", id, version).
		Updates(values)
	return result.RowsAffected, result.Error
}

// DecrementConsumed floors the counter at zero in a single statement.
func (r *repo) DecrementConsumed(ctx context.Context, db *gorm.DB, id snowflake.ID, cost int, now time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&usagedomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"consumed_credits": gorm.Expr("CASE WHEN consumed_credits > ? THEN consumed_credits - ? ELSE 0 END", cost, cost),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       now,
		})
	return result.RowsAffected, result.Error
}
