package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	"github.com/smallbiznis/mediaforge/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() dispatchdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, entry *dispatchdomain.QueueEntry) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*dispatchdomain.QueueEntry, error) {
	var entry dispatchdomain.QueueEntry
	err := tx.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) CountInFlight(ctx context.Context, tx *gorm.DB, providerType string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&dispatchdomain.QueueEntry{}).
		Where("provider_type = ? AND status = ?", providerType, dispatchdomain.EntryStatusInFlight).
		Count(&count).Error
	return count, err
}

// CountStartedSince counts every entry started inside the window, whatever its outcome.
func (r *repo) CountStartedSince(ctx context.Context, tx *gorm.DB, providerType string, since time.Time) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&dispatchdomain.QueueEntry{}).
		Where("provider_type = ? AND started_at IS NOT NULL AND started_at > ?", providerType, since).
		Count(&count).Error
	return count, err
}

func (r *repo) NextPending(ctx context.Context, tx *gorm.DB, providerType string) (*dispatchdomain.QueueEntry, error) {
	stmt := tx.WithContext(ctx)
	if db.SupportsSkipLocked(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var entry dispatchdomain.QueueEntry
	err := stmt.
		Where("provider_type = ? AND status = ?", providerType, dispatchdomain.EntryStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) MarkInFlight(ctx context.Context, tx *gorm.DB, id snowflake.ID, correlationID string, now time.Time) (int64, error) {
	return r.transition(ctx, tx, id, []dispatchdomain.EntryStatus{dispatchdomain.EntryStatusPending}, map[string]any{
		"status":         dispatchdomain.EntryStatusInFlight,
		"correlation_id": correlationID,
		"started_at":     now,
		"updated_at":     now,
	})
}

func (r *repo) MarkSubmitted(ctx context.Context, tx *gorm.DB, id snowflake.ID, taskID string, now time.Time) (int64, error) {
	return r.transition(ctx, tx, id, []dispatchdomain.EntryStatus{dispatchdomain.EntryStatusInFlight}, map[string]any{
		"task_id":    taskID,
		"updated_at": now,
	})
}

func (r *repo) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, now time.Time) (int64, error) {
	return r.transition(ctx, tx, id, []dispatchdomain.EntryStatus{
		dispatchdomain.EntryStatusPending,
		dispatchdomain.EntryStatusInFlight,
	}, map[string]any{
		"status":      dispatchdomain.EntryStatusFailed,
		"last_error":  reason,
		"finished_at": now,
		"updated_at":  now,
	})
}

func (r *repo) SettleByTaskID(ctx context.Context, tx *gorm.DB, taskID string, status dispatchdomain.EntryStatus, now time.Time) (int64, error) {
	result := tx.WithContext(ctx).
		Model(&dispatchdomain.QueueEntry{}).
		Where("task_id = ? AND status = ?", taskID, dispatchdomain.EntryStatusInFlight).
		Updates(map[string]any{
			"status":      status,
			"finished_at": now,
			"updated_at":  now,
		})
	return result.RowsAffected, result.Error
}

// HasActiveForSubject ignores entries whose provider never settled them within the window.
func (r *repo) HasActiveForSubject(ctx context.Context, tx *gorm.DB, subjectID snowflake.ID, since time.Time) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&dispatchdomain.QueueEntry{}).
		Where("subject_id = ? AND status IN ?", subjectID, []dispatchdomain.EntryStatus{
			dispatchdomain.EntryStatusPending,
			dispatchdomain.EntryStatusInFlight,
		}).
		Where("COALESCE(started_at, created_at) >= ?", since).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) transition(ctx context.Context, tx *gorm.DB, id snowflake.ID, from []dispatchdomain.EntryStatus, updates map[string]any) (int64, error) {
	result := tx.WithContext(ctx).
		Model(&dispatchdomain.QueueEntry{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}
