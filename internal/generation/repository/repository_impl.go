package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	generationdomain "github.com/smallbiznis/mediaforge/internal/generation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() generationdomain.Repository {
	return &repo{}
}

// InsertTask reports whether the row was created; an existing task_id leaves it untouched.
func (r *repo) InsertTask(ctx context.Context, db *gorm.DB, task *generationdomain.Task) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			DoNothing: true,
		}).
		Create(task)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindTask(ctx context.Context, db *gorm.DB, taskID string) (*generationdomain.Task, error) {
	var task generationdomain.Task
	err := db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *repo) InsertOutputs(ctx context.Context, db *gorm.DB, outputs []generationdomain.Output) error {
	if len(outputs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "output_index"}},
			DoNothing: true,
		}).
		Create(&outputs).Error
}

func (r *repo) ListOutputs(ctx context.Context, db *gorm.DB, taskID string) ([]generationdomain.Output, error) {
	var outputs []generationdomain.Output
	err := db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("output_index ASC").
		Find(&outputs).Error
	return outputs, err
}

func (r *repo) TransitionOutput(ctx context.Context, db *gorm.DB, id snowflake.ID, updates map[string]any) (int64, error) {
	result := db.WithContext(ctx).
		Model(&generationdomain.Output{}).
		Where("id = ? AND status = ?", id, generationdomain.OutputStatusPending).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repo) FailPendingOutputs(ctx context.Context, db *gorm.DB, taskID, reason string, now time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&generationdomain.Output{}).
		Where("task_id = ? AND status = ?", taskID, generationdomain.OutputStatusPending).
		Updates(map[string]any{
			"status":     generationdomain.OutputStatusFailed,
			"error":      reason,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *repo) CountOutputs(ctx context.Context, db *gorm.DB, taskID string, status generationdomain.OutputStatus) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&generationdomain.Output{}).
		Where("task_id = ? AND status = ?", taskID, status).
		Count(&count).Error
	return count, err
}

func (r *repo) HasPendingSince(ctx context.Context, db *gorm.DB, subjectID snowflake.ID, since time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&generationdomain.Output{}).
		Where("subject_id = ? AND status = ? AND created_at >= ?", subjectID, generationdomain.OutputStatusPending, since).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) ListTasks(ctx context.Context, db *gorm.DB, filter generationdomain.TaskFilter) ([]*generationdomain.Task, error) {
	stmt := db.WithContext(ctx).Model(&generationdomain.Task{}).Where("owner_id = ?", filter.OwnerID)
	if filter.SubjectID != 0 {
		stmt = stmt.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, filter.Cursor.CreatedAt)
		if err != nil {
			return nil, generationdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(filter.Cursor.ID)
		if err != nil {
			return nil, generationdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	}

	var tasks []*generationdomain.Task
	err := stmt.Order("created_at DESC").Order("id DESC").Limit(filter.Limit + 1).Find(&tasks).Error
	return tasks, err
}
