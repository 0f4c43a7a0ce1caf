package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/mediaforge/internal/clock"
	subjectdomain "github.com/smallbiznis/mediaforge/internal/subject/domain"
	"github.com/smallbiznis/mediaforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetForGenerationChecksOwner(t *testing.T) {
	db := testutil.OpenSQLite(t, "subjects")
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	id := testutil.MustNode(t).Generate()
	require.NoError(t, db.Create(&subjectdomain.Subject{
		ID: id, OwnerID: "owner-1", Title: "Lullaby", Prompt: "a soft lullaby",
		CreatedAt: now, UpdatedAt: now,
	}).Error)

	content, err := svc.GetForGeneration(context.Background(), id, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "a soft lullaby", content.Prompt)
	assert.Equal(t, "Lullaby", content.Title)

	_, err = svc.GetForGeneration(context.Background(), id, "owner-2")
	assert.ErrorIs(t, err, subjectdomain.ErrSubjectNotFound)

	_, err = svc.GetForGeneration(context.Background(), 0, "owner-1")
	assert.ErrorIs(t, err, subjectdomain.ErrInvalidSubject)
}

func TestSetPrimaryResultOverwrites(t *testing.T) {
	db := testutil.OpenSQLite(t, "subjects")
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})

	id := testutil.MustNode(t).Generate()
	require.NoError(t, db.Create(&subjectdomain.Subject{
		ID: id, OwnerID: "owner-1", Prompt: "p", CreatedAt: now, UpdatedAt: now,
	}).Error)

	ctx := context.Background()
	require.NoError(t, svc.SetPrimaryResultTx(ctx, nil, id, "t1", "https://cdn/a.mp3"))
	require.NoError(t, svc.SetPrimaryResultTx(ctx, db, id, "t2", "https://cdn/b.mp3"))

	var stored subjectdomain.Subject
	require.NoError(t, db.First(&stored, "id = ?", id).Error)
	require.NotNil(t, stored.PrimaryResultRef)
	assert.Equal(t, "https://cdn/b.mp3", *stored.PrimaryResultRef)
	assert.Equal(t, "t2", *stored.PrimaryTaskID)

	assert.NoError(t, svc.SetPrimaryResultTx(ctx, nil, testutil.MustNode(t).Generate(), "t3", "x"))
}
