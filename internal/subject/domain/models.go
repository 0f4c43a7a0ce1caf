// Package domain holds the subject record generation results are attached to.
// Subjects are owned by content management; this service only reads the prompt and
// writes the primary result columns.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Subject struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	OwnerID          string       `gorm:"type:text;not null;index"`
	Title            string       `gorm:"type:text"`
	Prompt           string       `gorm:"type:text;not null"`
	PrimaryResultRef *string      `gorm:"type:text"`
	PrimaryTaskID    *string      `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Subject) TableName() string { return "subjects" }

// Content is the validated input handed to a generation provider.
type Content struct {
	SubjectID snowflake.ID
	OwnerID   string
	Title     string
	Prompt    string
}

type Service interface {
	GetForGeneration(ctx context.Context, subjectID snowflake.ID, ownerID string) (*Content, error)
	SetPrimaryResultTx(ctx context.Context, tx *gorm.DB, subjectID snowflake.ID, taskID, resultRef string) error
}

var (
	ErrSubjectNotFound = errors.New("subject_not_found")
	ErrInvalidSubject  = errors.New("invalid_subject")
	ErrEmptyPrompt     = errors.New("subject_empty_prompt")
)
