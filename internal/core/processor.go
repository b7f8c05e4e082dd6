package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"portrait-backend/internal/archive"
	"portrait-backend/internal/core/training"
	"portrait-backend/internal/core/utils"
	"portrait-backend/internal/database"
	"portrait-backend/internal/imaging"
	"portrait-backend/internal/messaging"
	"portrait-backend/internal/metrics"
	"portrait-backend/internal/replicate"
	"portrait-backend/internal/storage"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Replicate is the part of the Replicate API the processor drives.
type Replicate interface {
	CreateTraining(ctx context.Context, trainerModel, trainerVersion, destination string, input replicate.TrainingInput) (replicate.Training, error)
	GetTraining(ctx context.Context, id string) (replicate.Training, error)
	CancelTraining(ctx context.Context, id string) (replicate.Training, error)
	CreatePrediction(ctx context.Context, version string, input map[string]any) (replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (replicate.Prediction, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

type ProcessorConfig struct {
	TrainerModel   string
	TrainerVersion string
	Destination    string
	TrainingSteps  int
	LoraRank       int

	ResultBucket string

	PollInterval time.Duration
	MaxPolls     int

	// MaxConcurrentTasks bounds how many trainings and generations are
	// polled at once.
	MaxConcurrentTasks int
}

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultMaxPolls           = 720
	DefaultMaxConcurrentTasks = 16
)

var errGenerationFailed = errors.New("generation failed")

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	reciever  messaging.Reciever
	replicate Replicate

	cfg ProcessorConfig

	sessionLocks *utils.MutexMap[uuid.UUID]
	slots        chan struct{}
	running      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskProcessor(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, reciever messaging.Reciever, client Replicate, cfg ProcessorConfig) *TaskProcessor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if cfg.ResultBucket == "" {
		cfg.ResultBucket = training.DefaultResultBucket
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TaskProcessor{
		db:           db,
		storage:      storage,
		publisher:    publisher,
		reciever:     reciever,
		replicate:    client,
		cfg:          cfg,
		sessionLocks: utils.NewMutexMap[uuid.UUID](),
		slots:        make(chan struct{}, cfg.MaxConcurrentTasks),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start consumes tasks until the reciever is closed. Each task runs in its own
// goroutine since a training can be polled for the better part of an hour.
func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor", "max_concurrent_tasks", proc.cfg.MaxConcurrentTasks)

	for task := range proc.reciever.Tasks() {
		proc.slots <- struct{}{}
		proc.running.Add(1)

		go func(task messaging.Task) {
			metrics.TasksRunning.Inc()
			defer func() {
				metrics.TasksRunning.Dec()
				<-proc.slots
				proc.running.Done()
			}()
			proc.ProcessTask(task)
		}(task)
	}

	proc.running.Wait()
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.cancel()
	proc.publisher.Close()
	proc.reciever.Close()
}

// ResumeUnfinished queues every session and generation that is still
// processing, for example after a worker restart interrupted its poll loop.
// Stored training and prediction ids are reused, so nothing is started twice.
func (proc *TaskProcessor) ResumeUnfinished(ctx context.Context) error {
	sessions, err := database.UnfinishedSessions(ctx, proc.db)
	if err != nil {
		return err
	}

	for _, session := range sessions {
		if err := proc.publisher.PublishTrainTask(ctx, messaging.TrainTaskPayload{SessionId: session.Id}); err != nil {
			return fmt.Errorf("error requeueing session %v: %w", session.Id, err)
		}
	}

	generations, err := database.UnfinishedGenerations(ctx, proc.db)
	if err != nil {
		return err
	}

	for _, generation := range generations {
		if err := proc.publisher.PublishGenerateTask(ctx, messaging.GenerateTaskPayload{GenerationId: generation.Id}); err != nil {
			return fmt.Errorf("error requeueing generation %v: %w", generation.Id, err)
		}
	}

	if len(sessions) > 0 || len(generations) > 0 {
		slog.Info("requeued unfinished tasks", "sessions", len(sessions), "generations", len(generations))
	}
	return nil
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := proc.ctx

	var err error
	switch task.Type() {

	case messaging.TrainingQueue:
		var payload messaging.TrainTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling training task", "error", err)
			proc.reject(task)
			return
		}
		err = proc.processTrainTask(ctx, payload)

	case messaging.GenerationQueue:
		var payload messaging.GenerateTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling generation task", "error", err)
			proc.reject(task)
			return
		}
		err = proc.processGenerateTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		proc.reject(task)
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		metrics.TasksProcessed.WithLabelValues(task.Type(), metrics.OutcomeError).Inc()
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		metrics.TasksProcessed.WithLabelValues(task.Type(), metrics.OutcomeSuccess).Inc()
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// reject discards a message that can never be processed.
func (proc *TaskProcessor) reject(task messaging.Task) {
	metrics.TasksProcessed.WithLabelValues(task.Type(), metrics.OutcomeRejected).Inc()
	if err := task.Reject(); err != nil {
		slog.Error("error rejecting message from queue", "error", err)
	}
}

func (proc *TaskProcessor) processTrainTask(ctx context.Context, payload messaging.TrainTaskPayload) error {
	// A session can be queued more than once (Prepare, /train, restarts). Only
	// one poll loop may run per session in this process; across workers the
	// training id claim in startTraining keeps a single training per session.
	proc.sessionLocks.Lock(payload.SessionId)
	defer proc.sessionLocks.Unlock(payload.SessionId)

	session, err := database.GetSession(ctx, proc.db, payload.SessionId)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			slog.Warn("dropping training task for missing session", "session_id", payload.SessionId)
			return nil
		}
		return err
	}

	if database.IsTerminal(session.Status) {
		slog.Info("training session already finished", "session_id", session.Id, "status", session.Status)
		return nil
	}

	trainingId := session.ReplicateTrainingId.String
	if !session.ReplicateTrainingId.Valid {
		trainingId, err = proc.startTraining(ctx, session)
		if errors.Is(err, database.ErrSessionFinished) {
			slog.Info("training session finished while starting", "session_id", session.Id)
			return nil
		}
		if err != nil {
			proc.failSession(session.Id, "failed to start training")
			return err
		}
	} else {
		slog.Info("resuming training poll loop", "session_id", session.Id, "training_id", trainingId, "polls", session.PollCount)
	}

	return proc.pollTraining(ctx, session, trainingId)
}

func (proc *TaskProcessor) startTraining(ctx context.Context, session database.TrainingSession) (string, error) {
	input := replicate.TrainingInput{
		InputImages: session.TrainingDataUrl,
		TriggerWord: session.TriggerWord,
		Steps:       proc.cfg.TrainingSteps,
		LoraRank:    proc.cfg.LoraRank,
		Autocaption: true,
	}

	trainingRun, err := proc.replicate.CreateTraining(ctx, proc.cfg.TrainerModel, proc.cfg.TrainerVersion, proc.cfg.Destination, input)
	if err != nil {
		return "", fmt.Errorf("error creating training for session %v: %w", session.Id, err)
	}

	inputJson, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("error serializing training input: %w", err)
	}

	err = database.ClaimSessionTraining(ctx, proc.db, session.Id, trainingRun.Id, inputJson)
	if err == nil {
		slog.Info("started training", "session_id", session.Id, "training_id", trainingRun.Id, "trigger_word", session.TriggerWord)
		return trainingRun.Id, nil
	}
	if !errors.Is(err, database.ErrTrainingClaimed) {
		return "", fmt.Errorf("error saving training id: %w", err)
	}

	// Another worker started a training for this session first. Drop ours and
	// follow theirs.
	slog.Warn("session already has a training, canceling duplicate", "session_id", session.Id, "training_id", trainingRun.Id)
	if _, err := proc.replicate.CancelTraining(context.Background(), trainingRun.Id); err != nil {
		slog.Error("error canceling duplicate training", "training_id", trainingRun.Id, "error", err)
	}

	current, err := database.GetSession(ctx, proc.db, session.Id)
	if err != nil {
		return "", err
	}
	if !current.ReplicateTrainingId.Valid {
		return "", database.ErrSessionFinished
	}
	return current.ReplicateTrainingId.String, nil
}

func (proc *TaskProcessor) pollTraining(ctx context.Context, session database.TrainingSession, trainingId string) error {
	err := Poll(ctx, proc.cfg.PollInterval, proc.cfg.MaxPolls, session.PollCount, func(ctx context.Context) (bool, error) {
		metrics.TrainingPolls.Inc()
		trainingRun, err := proc.replicate.GetTraining(ctx, trainingId)
		if err != nil {
			if errors.Is(err, replicate.ErrNotFound) {
				return false, err
			}
			// Spend the poll and try again on the next tick.
			slog.Warn("error checking training status", "session_id", session.Id, "training_id", trainingId, "error", err)
			return false, database.UpdateSessionProgress(ctx, proc.db, session.Id, 0)
		}

		switch trainingRun.Status {
		case replicate.StatusSucceeded:
			if trainingRun.Output == nil || trainingRun.Output.Version == "" {
				return true, trainingFinished(database.StatusFailed, database.FailSession(ctx, proc.db, session.Id, "training finished without a model version"))
			}
			slog.Info("training completed", "session_id", session.Id, "training_id", trainingId, "version", trainingRun.Output.Version)
			return true, trainingFinished(database.StatusCompleted, database.CompleteSession(ctx, proc.db, session.Id, trainingRun.Output.Version, trainingRun.Output.Weights))

		case replicate.StatusFailed, replicate.StatusCanceled:
			reason := trainingRun.ErrorMessage()
			if reason == "" {
				reason = fmt.Sprintf("training %s", trainingRun.Status)
			}
			slog.Info("training did not complete", "session_id", session.Id, "training_id", trainingId, "status", trainingRun.Status, "reason", reason)
			return true, trainingFinished(database.StatusFailed, database.FailSession(ctx, proc.db, session.Id, reason))

		default:
			return false, database.UpdateSessionProgress(ctx, proc.db, session.Id, max(0, trainingRun.Progress()))
		}
	})

	switch {
	case err == nil:
		return nil

	case errors.Is(err, ErrPollLimit):
		slog.Warn("training timed out", "session_id", session.Id, "training_id", trainingId, "max_polls", proc.cfg.MaxPolls)
		if _, err := proc.replicate.CancelTraining(context.Background(), trainingId); err != nil {
			slog.Error("error canceling timed out training", "training_id", trainingId, "error", err)
		}
		proc.failSession(session.Id, "training timed out")
		return nil

	case errors.Is(err, context.Canceled):
		// Shutting down, the session stays processing and is resumed later.
		return err

	case errors.Is(err, database.ErrSessionFinished):
		current, getErr := database.GetSession(context.Background(), proc.db, session.Id)
		if getErr == nil && current.Status == database.StatusCompleted {
			slog.Info("training session completed by another worker", "session_id", session.Id, "training_id", trainingId)
			return nil
		}
		slog.Warn("training session finished while polling", "session_id", session.Id, "training_id", trainingId)
		if _, err := proc.replicate.CancelTraining(context.Background(), trainingId); err != nil {
			slog.Error("error canceling training", "training_id", trainingId, "error", err)
		}
		return nil

	default:
		proc.failSession(session.Id, "failed to check training status")
		return fmt.Errorf("error polling training %s: %w", trainingId, err)
	}
}

func trainingFinished(status string, err error) error {
	if err == nil {
		metrics.TrainingsFinished.WithLabelValues(status).Inc()
	}
	return err
}

// failSession records a failure even when the task context is already done.
func (proc *TaskProcessor) failSession(sessionId uuid.UUID, reason string) {
	err := trainingFinished(database.StatusFailed, database.FailSession(context.Background(), proc.db, sessionId, reason))
	if err != nil && !errors.Is(err, database.ErrSessionFinished) {
		slog.Error("error marking session failed", "session_id", sessionId, "reason", reason, "error", err)
	}
}

func (proc *TaskProcessor) failGeneration(generationId uuid.UUID, reason string) {
	if err := database.UpdateGenerationStatus(context.Background(), proc.db, generationId, database.StatusFailed, "", reason); err != nil {
		slog.Error("error marking generation failed", "generation_id", generationId, "reason", reason, "error", err)
		return
	}
	metrics.GenerationsFinished.WithLabelValues(database.StatusFailed).Inc()
}

// PredictionVersion strips the model name from "owner/model:version", the
// predictions endpoint only takes the version id.
func PredictionVersion(modelVersion string) string {
	if idx := strings.LastIndex(modelVersion, ":"); idx >= 0 {
		return modelVersion[idx+1:]
	}
	return modelVersion
}

func (proc *TaskProcessor) processGenerateTask(ctx context.Context, payload messaging.GenerateTaskPayload) error {
	generation, err := database.GetGeneration(ctx, proc.db, payload.GenerationId)
	if err != nil {
		if errors.Is(err, database.ErrGenerationNotFound) {
			slog.Warn("dropping generation task for missing generation", "generation_id", payload.GenerationId)
			return nil
		}
		return err
	}

	if database.IsTerminal(generation.Status) {
		return nil
	}

	session := generation.Session
	if session == nil || !session.ModelVersion.Valid {
		proc.failGeneration(generation.Id, "model is not trained")
		return nil
	}

	predictionId := generation.PredictionId.String
	if !generation.PredictionId.Valid {
		prediction, err := proc.replicate.CreatePrediction(ctx, PredictionVersion(session.ModelVersion.String), map[string]any{
			"prompt":        generation.Prompt,
			"num_outputs":   1,
			"output_format": "jpg",
		})
		if err != nil {
			proc.failGeneration(generation.Id, "failed to start generation")
			return fmt.Errorf("error creating prediction: %w", err)
		}
		predictionId = prediction.Id

		if err := database.SetGenerationPrediction(ctx, proc.db, generation.Id, predictionId); err != nil {
			return err
		}
	}

	var outputs []string
	err = Poll(ctx, proc.cfg.PollInterval, proc.cfg.MaxPolls, 0, func(ctx context.Context) (bool, error) {
		prediction, err := proc.replicate.GetPrediction(ctx, predictionId)
		if err != nil {
			if errors.Is(err, replicate.ErrNotFound) {
				return false, err
			}
			slog.Warn("error checking prediction status", "generation_id", generation.Id, "prediction_id", predictionId, "error", err)
			return false, nil
		}

		switch prediction.Status {
		case replicate.StatusSucceeded:
			outputs = prediction.OutputURLs()
			if len(outputs) == 0 {
				return true, fmt.Errorf("%w: prediction returned no images", errGenerationFailed)
			}
			return true, nil
		case replicate.StatusFailed, replicate.StatusCanceled:
			reason := prediction.ErrorMessage()
			if reason == "" {
				reason = fmt.Sprintf("prediction %s", prediction.Status)
			}
			return true, fmt.Errorf("%w: %s", errGenerationFailed, reason)
		default:
			return false, nil
		}
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrPollLimit):
		proc.failGeneration(generation.Id, "generation timed out")
		return nil
	case errors.Is(err, errGenerationFailed):
		proc.failGeneration(generation.Id, strings.TrimPrefix(err.Error(), errGenerationFailed.Error()+": "))
		return nil
	case errors.Is(err, context.Canceled):
		return err
	default:
		proc.failGeneration(generation.Id, "failed to check generation status")
		return err
	}

	outputUrl, err := proc.storeGeneration(ctx, generation, outputs[0])
	if err != nil {
		proc.failGeneration(generation.Id, "failed to store generated image")
		return err
	}

	slog.Info("generation completed", "generation_id", generation.Id, "session_id", session.Id, "output_url", outputUrl)

	if err := database.UpdateGenerationStatus(ctx, proc.db, generation.Id, database.StatusCompleted, outputUrl, ""); err != nil {
		return err
	}
	metrics.GenerationsFinished.WithLabelValues(database.StatusCompleted).Inc()
	return nil
}

// storeGeneration copies the generated image into the result bucket as the
// session's stylized image and makes sure the original image sits next to it.
func (proc *TaskProcessor) storeGeneration(ctx context.Context, generation database.Generation, outputUrl string) (string, error) {
	session := generation.Session

	raw, err := proc.replicate.Download(ctx, outputUrl)
	if err != nil {
		return "", fmt.Errorf("error downloading generated image: %w", err)
	}

	stylized, err := imaging.ResizeDefault(raw)
	if err != nil {
		return "", fmt.Errorf("error converting generated image: %w", err)
	}

	generationKey := training.ResultKey(session.UserId, session.TriggerWord, fmt.Sprintf("generations/%s.jpg", generation.Id))
	for _, key := range []string{generationKey, training.ResultKey(session.UserId, session.TriggerWord, training.StylizedImageName)} {
		if err := proc.storage.PutObject(ctx, proc.cfg.ResultBucket, key, bytes.NewReader(stylized), imaging.ContentType); err != nil {
			return "", fmt.Errorf("error uploading generated image: %w", err)
		}
	}

	if err := proc.ensureOriginal(ctx, *session); err != nil {
		return "", err
	}

	return proc.storage.PublicURL(proc.cfg.ResultBucket, generationKey), nil
}

func (proc *TaskProcessor) ensureOriginal(ctx context.Context, session database.TrainingSession) error {
	key := training.ResultKey(session.UserId, session.TriggerWord, training.OriginalImageName)

	_, err := proc.storage.GetObject(ctx, proc.cfg.ResultBucket, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("error checking original image: %w", err)
	}

	zipData, err := proc.replicate.Download(ctx, session.TrainingDataUrl)
	if err != nil {
		return fmt.Errorf("error downloading training data: %w", err)
	}

	images, err := archive.ExtractImages(zipData)
	if err != nil {
		return fmt.Errorf("error reading training data: %w", err)
	}

	original, err := imaging.ResizeDefault(images[0].Data)
	if err != nil {
		return fmt.Errorf("error converting original image: %w", err)
	}

	if err := proc.storage.PutObject(ctx, proc.cfg.ResultBucket, key, bytes.NewReader(original), imaging.ContentType); err != nil {
		return fmt.Errorf("error uploading original image: %w", err)
	}
	return nil
}
