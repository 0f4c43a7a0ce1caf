package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mediaforge/internal/clock"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p ServiceParam) subjectdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subject.service"),
		clock: p.Clock,
	}
}

// GetForGeneration returns the subject content when it belongs to ownerID.
func (s *Service) GetForGeneration(ctx context.Context, subjectID snowflake.ID, ownerID string) (*subjectdomain.Content, error) {
	if subjectID == 0 {
		return nil, subjectdomain.ErrInvalidSubject
	}

	var subject subjectdomain.Subject
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", subjectID, strings.TrimSpace(ownerID)).
		First(&subject).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subjectdomain.ErrSubjectNotFound
		}
		return nil, err
	}
	if strings.TrimSpace(subject.Prompt) == "" {
		return nil, subjectdomain.ErrEmptyPrompt
	}

	return &subjectdomain.Content{
		SubjectID: subject.ID,
		OwnerID:   subject.OwnerID,
		Title:     subject.Title,
		Prompt:    subject.Prompt,
	}, nil
}

// SetPrimaryResultTx overwrites the primary result unconditionally so regenerations replace it.
func (s *Service) SetPrimaryResultTx(ctx context.Context, tx *gorm.DB, subjectID snowflake.ID, taskID, resultRef string) error {
	if tx == nil {
		tx = s.db
	}
	result := tx.WithContext(ctx).
		Model(&subjectdomain.Subject{}).
		Where("id = ?", subjectID).
		Updates(map[string]any{
			"primary_result_ref": resultRef,
			"primary_task_id":    taskID,
			"updated_at":         s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Warn("primary result target missing",
			zap.String("subject_id", subjectID.String()),
			zap.String("task_id", taskID),
		)
	}
	return nil
}
