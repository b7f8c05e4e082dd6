package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound    = errors.New("training session not found")
	ErrSessionFinished    = errors.New("training session is no longer processing")
	ErrGenerationNotFound = errors.New("generation not found")
	ErrTrainingClaimed    = errors.New("training session already has a training")
)

func UpdateImageResult(ctx context.Context, txn *gorm.DB, imageId uuid.UUID, processedUrl string, status string) error {
	updates := map[string]any{"status": status}
	if processedUrl != "" {
		updates["processed_url"] = processedUrl
	}
	if IsTerminal(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Image{Id: imageId}).Updates(updates).Error; err != nil {
		slog.Error("error updating image record", "image_id", imageId, "status", status, "error", err)
		return err
	}
	return nil
}

// UpdateSessionProgress records one poll of a running training. Progress never
// moves backwards since the trainer logs are only partially retained.
func UpdateSessionProgress(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID, progress float64) error {
	result := txn.WithContext(ctx).
		Model(&TrainingSession{}).
		Where("id = ? AND status = ?", sessionId, StatusProcessing).
		Updates(map[string]any{
			"poll_count": gorm.Expr("poll_count + ?", 1),
			"progress":   gorm.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", progress, progress),
		})
	if err := result.Error; err != nil {
		slog.Error("error updating training progress", "session_id", sessionId, "error", err)
		return err
	}
	if result.RowsAffected == 0 {
		return ErrSessionFinished
	}
	return nil
}

// finishSession moves a processing session to a terminal state. Sessions that
// already finished, e.g. expired by the reaper, are left untouched.
func finishSession(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID, updates map[string]any) error {
	result := txn.WithContext(ctx).
		Model(&TrainingSession{}).
		Where("id = ? AND status = ?", sessionId, StatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionFinished
	}
	return nil
}

// ClaimSessionTraining records the Replicate training started for a session.
// Only the first training wins: workers that race on the same session get
// ErrTrainingClaimed and must drop the run they started.
func ClaimSessionTraining(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID, trainingId string, input datatypes.JSON) error {
	result := txn.WithContext(ctx).
		Model(&TrainingSession{}).
		Where("id = ? AND status = ? AND replicate_training_id IS NULL", sessionId, StatusProcessing).
		Updates(map[string]any{
			"replicate_training_id": sql.NullString{String: trainingId, Valid: true},
			"training_input":        input,
		})
	if err := result.Error; err != nil {
		slog.Error("error saving replicate training id", "session_id", sessionId, "training_id", trainingId, "error", err)
		return err
	}
	if result.RowsAffected == 0 {
		return ErrTrainingClaimed
	}
	return nil
}

func CompleteSession(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID, modelVersion, weightsUrl string) error {
	updates := map[string]any{
		"status":          StatusCompleted,
		"progress":        100.0,
		"model_version":   sql.NullString{String: modelVersion, Valid: modelVersion != ""},
		"weights_url":     sql.NullString{String: weightsUrl, Valid: weightsUrl != ""},
		"completion_time": time.Now().UTC(),
	}

	if err := finishSession(ctx, txn, sessionId, updates); err != nil {
		if !errors.Is(err, ErrSessionFinished) {
			slog.Error("error completing training session", "session_id", sessionId, "error", err)
		}
		return err
	}
	return nil
}

func FailSession(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID, reason string) error {
	updates := map[string]any{
		"status":          StatusFailed,
		"error":           sql.NullString{String: reason, Valid: reason != ""},
		"completion_time": time.Now().UTC(),
	}

	if err := finishSession(ctx, txn, sessionId, updates); err != nil {
		if !errors.Is(err, ErrSessionFinished) {
			slog.Error("error failing training session", "session_id", sessionId, "error", err)
		}
		return err
	}
	return nil
}

func GetSession(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID) (TrainingSession, error) {
	var session TrainingSession
	if err := txn.WithContext(ctx).First(&session, "id = ?", sessionId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("error loading training session %v: %w", sessionId, err)
	}
	return session, nil
}

// LatestSession returns the most recently created session a user started for a
// trigger word. Users may retrain with the same word after a failure.
func LatestSession(ctx context.Context, txn *gorm.DB, userId, triggerWord string) (TrainingSession, error) {
	var session TrainingSession
	err := txn.WithContext(ctx).
		Where("user_id = ? AND trigger_word = ?", userId, triggerWord).
		Order("creation_time DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session, ErrSessionNotFound
		}
		return session, fmt.Errorf("error loading training session for %s/%s: %w", userId, triggerWord, err)
	}
	return session, nil
}

// FailStaleSessions marks sessions still processing that were created before
// the cutoff as failed and returns how many were changed.
func FailStaleSessions(ctx context.Context, txn *gorm.DB, cutoff time.Time) (int64, error) {
	result := txn.WithContext(ctx).
		Model(&TrainingSession{}).
		Where("status = ? AND creation_time < ?", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":          StatusFailed,
			"error":           sql.NullString{String: "training session expired", Valid: true},
			"completion_time": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("error expiring stale sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func UpdateGenerationStatus(ctx context.Context, txn *gorm.DB, generationId uuid.UUID, status string, outputUrl string, reason string) error {
	updates := map[string]any{"status": status}
	if outputUrl != "" {
		updates["output_url"] = sql.NullString{String: outputUrl, Valid: true}
	}
	if reason != "" {
		updates["error"] = sql.NullString{String: reason, Valid: true}
	}
	if IsTerminal(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Generation{Id: generationId}).Updates(updates).Error; err != nil {
		slog.Error("error updating generation status", "generation_id", generationId, "status", status, "error", err)
		return err
	}
	return nil
}

func SetGenerationPrediction(ctx context.Context, txn *gorm.DB, generationId uuid.UUID, predictionId string) error {
	if err := txn.WithContext(ctx).
		Model(&Generation{Id: generationId}).
		Update("prediction_id", predictionId).Error; err != nil {
		slog.Error("error saving prediction id", "generation_id", generationId, "prediction_id", predictionId, "error", err)
		return err
	}
	return nil
}

func GetGeneration(ctx context.Context, txn *gorm.DB, generationId uuid.UUID) (Generation, error) {
	var generation Generation
	if err := txn.WithContext(ctx).Preload("Session").First(&generation, "id = ?", generationId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return generation, ErrGenerationNotFound
		}
		return generation, fmt.Errorf("error loading generation %v: %w", generationId, err)
	}
	return generation, nil
}

// UnfinishedSessions lists the sessions a worker should pick back up after a
// restart.
func UnfinishedSessions(ctx context.Context, txn *gorm.DB) ([]TrainingSession, error) {
	var sessions []TrainingSession
	if err := txn.WithContext(ctx).Where("status = ?", StatusProcessing).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("error listing unfinished sessions: %w", err)
	}
	return sessions, nil
}

// UnfinishedGenerations lists the generations whose poll loop was cut off,
// oldest first.
func UnfinishedGenerations(ctx context.Context, txn *gorm.DB) ([]Generation, error) {
	var generations []Generation
	if err := txn.WithContext(ctx).Where("status = ?", StatusProcessing).Order("creation_time").Find(&generations).Error; err != nil {
		return nil, fmt.Errorf("error listing unfinished generations: %w", err)
	}
	return generations, nil
}

// FailStaleGenerations marks generations still processing that were created
// before the cutoff as failed and returns how many were changed.
func FailStaleGenerations(ctx context.Context, txn *gorm.DB, cutoff time.Time) (int64, error) {
	result := txn.WithContext(ctx).
		Model(&Generation{}).
		Where("status = ? AND creation_time < ?", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":          StatusFailed,
			"error":           sql.NullString{String: "generation expired", Valid: true},
			"completion_time": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("error expiring stale generations: %w", result.Error)
	}
	return result.RowsAffected, nil
}
