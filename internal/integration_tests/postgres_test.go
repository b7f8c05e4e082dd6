package integrationtests

import (
	"context"
	"portrait-backend/internal/database"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestPostgresSessionLifecycle(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := createDB(t, ctx)

	session := database.TrainingSession{
		Id:              uuid.New(),
		UserId:          "user-1",
		TriggerWord:     "PERSON_ABCDE",
		TrainingDataUrl: "http://storage/training_data/user-1/PERSON_ABCDE/1.zip",
		NumImages:       12,
		Status:          database.StatusProcessing,
		CreationTime:    time.Now().UTC(),
	}
	require.NoError(t, db.Create(&session).Error)

	input := datatypes.JSON(`{"steps":1000,"trigger_word":"PERSON_ABCDE"}`)
	require.NoError(t, database.ClaimSessionTraining(ctx, db, session.Id, "train-1", input))
	assert.ErrorIs(t, database.ClaimSessionTraining(ctx, db, session.Id, "train-2", input), database.ErrTrainingClaimed)

	require.NoError(t, database.UpdateSessionProgress(ctx, db, session.Id, 40))
	require.NoError(t, database.UpdateSessionProgress(ctx, db, session.Id, 25))

	loaded, err := database.GetSession(ctx, db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.PollCount)
	assert.Equal(t, 40.0, loaded.Progress)
	assert.Equal(t, "train-1", loaded.ReplicateTrainingId.String)
	assert.JSONEq(t, string(input), string(loaded.TrainingInput))

	require.NoError(t, database.CompleteSession(ctx, db, session.Id, "owner/model:abc", "https://weights"))

	latest, err := database.LatestSession(ctx, db, "user-1", "PERSON_ABCDE")
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, latest.Status)
	assert.Equal(t, 100.0, latest.Progress)
	assert.Equal(t, "owner/model:abc", latest.ModelVersion.String)
	assert.True(t, latest.CompletionTime.Valid)

	// Finished sessions are never moved again.
	assert.ErrorIs(t, database.FailSession(ctx, db, session.Id, "late failure"), database.ErrSessionFinished)
	assert.ErrorIs(t, database.UpdateSessionProgress(ctx, db, session.Id, 10), database.ErrSessionFinished)
}

func TestPostgresFailStaleSessions(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := createDB(t, ctx)

	stale := database.TrainingSession{Id: uuid.New(), UserId: "user-1", TriggerWord: "PERSON_OLD", Status: database.StatusProcessing, CreationTime: time.Now().UTC().Add(-3 * time.Hour)}
	fresh := database.TrainingSession{Id: uuid.New(), UserId: "user-1", TriggerWord: "PERSON_NEW", Status: database.StatusProcessing, CreationTime: time.Now().UTC()}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Create(&fresh).Error)

	n, err := database.FailStaleSessions(ctx, db, time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unfinished, err := database.UnfinishedSessions(ctx, db)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, fresh.Id, unfinished[0].Id)

	expired, err := database.GetSession(ctx, db, stale.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, expired.Status)
	assert.Equal(t, "training session expired", expired.Error.String)
}
