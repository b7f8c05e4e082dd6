package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"portrait-backend/internal/archive"
	"portrait-backend/internal/core/utils"
	"portrait-backend/internal/database"
	"portrait-backend/internal/imaging"
	"portrait-backend/internal/messaging"
	"portrait-backend/internal/storage"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MinImages = 12
	MaxImages = 20

	DefaultTrainingBucket = "training_data"
	DefaultResultBucket   = "public-images"
	ResultURLExpiry       = time.Hour
)

var (
	ErrTooManyImages = fmt.Errorf("You can only upload up to %d images. Please remove some images first.", MaxImages)
	ErrTooFewImages  = fmt.Errorf("Please upload at least %d images.", MinImages)

	ErrTriggerWordMismatch = errors.New("trigger word does not match training session")
	ErrTrainingDataMissing = errors.New("training data url is required")
	ErrTrainingInProgress  = errors.New("Training is still in progress")
	ErrTrainingFailed      = errors.New("Training failed")
	ErrNotOwner            = errors.New("training session belongs to another user")
	ErrPromptRequired      = errors.New("prompt is required")
)

type Config struct {
	TrainingBucket string
	ResultBucket   string
	ResizeWorkers  int
}

// Service owns the user facing half of the training flow: preparing the
// dataset, starting a run and reading back its state. The long running half
// lives in the task processor.
type Service struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher

	trainingBucket string
	resultBucket   string
	resizeWorkers  int

	now func() time.Time
}

func NewService(db *gorm.DB, provider storage.Provider, publisher messaging.Publisher, cfg Config) *Service {
	if cfg.TrainingBucket == "" {
		cfg.TrainingBucket = DefaultTrainingBucket
	}
	if cfg.ResultBucket == "" {
		cfg.ResultBucket = DefaultResultBucket
	}
	if cfg.ResizeWorkers <= 0 {
		cfg.ResizeWorkers = 4
	}

	return &Service{
		db:             db,
		storage:        provider,
		publisher:      publisher,
		trainingBucket: cfg.TrainingBucket,
		resultBucket:   cfg.ResultBucket,
		resizeWorkers:  cfg.ResizeWorkers,
		now:            time.Now,
	}
}

func (s *Service) TrainingBucket() string {
	return s.trainingBucket
}

func (s *Service) ResultBucket() string {
	return s.resultBucket
}

func CheckImageCount(n int) error {
	if n > MaxImages {
		return ErrTooManyImages
	}
	if n < MinImages {
		return ErrTooFewImages
	}
	return nil
}

// Prepare resizes the uploaded photos, packs them into the archive the trainer
// expects, uploads it and queues a training run for the new session. An empty
// trigger word gets a generated one.
func (s *Service) Prepare(ctx context.Context, userId, triggerWord string, images [][]byte) (database.TrainingSession, error) {
	if err := CheckImageCount(len(images)); err != nil {
		return database.TrainingSession{}, err
	}

	if triggerWord == "" {
		triggerWord = NewTriggerWord()
	} else {
		word, err := NormalizeTriggerWord(triggerWord)
		if err != nil {
			return database.TrainingSession{}, err
		}
		triggerWord = word
	}

	resized, err := utils.MapInPool(images, imaging.ResizeDefault, s.resizeWorkers)
	if err != nil {
		return database.TrainingSession{}, fmt.Errorf("error resizing images: %w", err)
	}

	zipData, err := archive.PackTrainingImages(resized)
	if err != nil {
		return database.TrainingSession{}, fmt.Errorf("error creating training archive: %w", err)
	}

	created := s.now().UTC()

	key := TrainingDataKey(userId, triggerWord, created)
	if err := s.storage.PutObject(ctx, s.trainingBucket, key, bytes.NewReader(zipData), archive.ContentType); err != nil {
		return database.TrainingSession{}, fmt.Errorf("error uploading training data: %w", err)
	}

	// The first photo doubles as the "before" image on the results page.
	originalKey := ResultKey(userId, triggerWord, OriginalImageName)
	if err := s.storage.PutObject(ctx, s.resultBucket, originalKey, bytes.NewReader(resized[0]), imaging.ContentType); err != nil {
		return database.TrainingSession{}, fmt.Errorf("error uploading original image: %w", err)
	}

	session := database.TrainingSession{
		Id:              uuid.New(),
		UserId:          userId,
		TriggerWord:     triggerWord,
		TrainingDataUrl: s.storage.PublicURL(s.trainingBucket, key),
		NumImages:       len(images),
		Status:          database.StatusProcessing,
		CreationTime:    created,
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		slog.Error("error creating training session", "user_id", userId, "trigger_word", triggerWord, "error", err)
		return database.TrainingSession{}, fmt.Errorf("error creating training session: %w", err)
	}

	if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{SessionId: session.Id}); err != nil {
		slog.Error("error queueing training task", "session_id", session.Id, "error", err)
		if err := database.FailSession(ctx, s.db, session.Id, "failed to queue training"); err != nil {
			slog.Error("error marking session failed", "session_id", session.Id, "error", err)
		}
		return database.TrainingSession{}, fmt.Errorf("error queueing training task: %w", err)
	}

	slog.Info("prepared training session", "session_id", session.Id, "user_id", userId, "trigger_word", triggerWord, "num_images", len(images))

	return session, nil
}

type StartRequest struct {
	TrainingDataUrl string
	TriggerWord     string
	SessionId       uuid.UUID
}

// Start queues the training run for an existing session. Queueing the same
// session twice is harmless, the processor resumes the run it already started.
func (s *Service) Start(ctx context.Context, req StartRequest) (database.TrainingSession, error) {
	if strings.TrimSpace(req.TrainingDataUrl) == "" {
		return database.TrainingSession{}, ErrTrainingDataMissing
	}

	triggerWord, err := NormalizeTriggerWord(req.TriggerWord)
	if err != nil {
		return database.TrainingSession{}, err
	}

	session, err := database.GetSession(ctx, s.db, req.SessionId)
	if err != nil {
		return database.TrainingSession{}, err
	}

	if session.TriggerWord != triggerWord {
		return database.TrainingSession{}, ErrTriggerWordMismatch
	}
	if database.IsTerminal(session.Status) {
		return database.TrainingSession{}, database.ErrSessionFinished
	}

	if session.TrainingDataUrl != req.TrainingDataUrl {
		if err := s.db.WithContext(ctx).Model(&session).Update("training_data_url", req.TrainingDataUrl).Error; err != nil {
			return database.TrainingSession{}, fmt.Errorf("error updating training data url: %w", err)
		}
	}

	if err := s.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{SessionId: session.Id}); err != nil {
		return database.TrainingSession{}, fmt.Errorf("error queueing training task: %w", err)
	}

	return session, nil
}

func (s *Service) Status(ctx context.Context, userId, triggerWord string) (database.TrainingSession, error) {
	word, err := NormalizeTriggerWord(triggerWord)
	if err != nil {
		return database.TrainingSession{}, database.ErrSessionNotFound
	}
	return database.LatestSession(ctx, s.db, userId, word)
}

// Session loads a session on behalf of a user.
func (s *Service) Session(ctx context.Context, userId string, sessionId uuid.UUID) (database.TrainingSession, error) {
	session, err := database.GetSession(ctx, s.db, sessionId)
	if err != nil {
		return database.TrainingSession{}, err
	}
	if session.UserId != userId {
		return database.TrainingSession{}, ErrNotOwner
	}
	return session, nil
}

type ListFilter struct {
	Status string
	Limit  int
}

func (s *Service) List(ctx context.Context, userId string, filter ListFilter) ([]database.TrainingSession, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userId).Order("creation_time DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var sessions []database.TrainingSession
	if err := query.Find(&sessions).Error; err != nil {
		slog.Error("error listing training sessions", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error listing training sessions: %w", err)
	}
	return sessions, nil
}

type Results struct {
	OriginalUrl string
	StylizedUrl string
	ExpiresAt   time.Time
}

// Results returns short lived links to the before and after images of a
// finished session.
func (s *Service) Results(ctx context.Context, userId, triggerWord string) (Results, error) {
	session, err := s.Status(ctx, userId, triggerWord)
	if err != nil {
		return Results{}, err
	}

	switch session.Status {
	case database.StatusCompleted:
	case database.StatusFailed:
		return Results{}, ErrTrainingFailed
	default:
		return Results{}, ErrTrainingInProgress
	}

	expires := s.now().Add(ResultURLExpiry)

	original, err := s.storage.SignedURL(ctx, s.resultBucket, ResultKey(userId, session.TriggerWord, OriginalImageName), ResultURLExpiry)
	if err != nil {
		return Results{}, fmt.Errorf("error signing original image url: %w", err)
	}

	stylized, err := s.storage.SignedURL(ctx, s.resultBucket, ResultKey(userId, session.TriggerWord, StylizedImageName), ResultURLExpiry)
	if err != nil {
		return Results{}, fmt.Errorf("error signing stylized image url: %w", err)
	}

	return Results{OriginalUrl: original, StylizedUrl: stylized, ExpiresAt: expires}, nil
}

// WithTriggerWord makes sure the prompt mentions the trained subject.
func WithTriggerWord(prompt, triggerWord string) string {
	prompt = strings.TrimSpace(prompt)
	if strings.Contains(strings.ToUpper(prompt), triggerWord) {
		return prompt
	}
	return fmt.Sprintf("A photo of %s, %s", triggerWord, prompt)
}

// Generate queues an image generation with the model trained for the session.
func (s *Service) Generate(ctx context.Context, userId string, sessionId uuid.UUID, prompt string) (database.Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return database.Generation{}, ErrPromptRequired
	}

	session, err := s.Session(ctx, userId, sessionId)
	if err != nil {
		return database.Generation{}, err
	}

	switch session.Status {
	case database.StatusCompleted:
	case database.StatusFailed:
		return database.Generation{}, ErrTrainingFailed
	default:
		return database.Generation{}, ErrTrainingInProgress
	}

	generation := database.Generation{
		Id:           uuid.New(),
		SessionId:    session.Id,
		Prompt:       WithTriggerWord(prompt, session.TriggerWord),
		Status:       database.StatusProcessing,
		CreationTime: s.now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&generation).Error; err != nil {
		slog.Error("error creating generation", "session_id", session.Id, "error", err)
		return database.Generation{}, fmt.Errorf("error creating generation: %w", err)
	}

	if err := s.publisher.PublishGenerateTask(ctx, messaging.GenerateTaskPayload{GenerationId: generation.Id}); err != nil {
		slog.Error("error queueing generation task", "generation_id", generation.Id, "error", err)
		if err := database.UpdateGenerationStatus(ctx, s.db, generation.Id, database.StatusFailed, "", "failed to queue generation"); err != nil {
			slog.Error("error marking generation failed", "generation_id", generation.Id, "error", err)
		}
		return database.Generation{}, fmt.Errorf("error queueing generation task: %w", err)
	}

	return generation, nil
}

func (s *Service) GetGeneration(ctx context.Context, userId string, generationId uuid.UUID) (database.Generation, error) {
	generation, err := database.GetGeneration(ctx, s.db, generationId)
	if err != nil {
		return database.Generation{}, err
	}

	if generation.Session == nil || generation.Session.UserId != userId {
		return database.Generation{}, database.ErrGenerationNotFound
	}
	return generation, nil
}
