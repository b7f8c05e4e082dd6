package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"portrait-backend/internal/archive"
	"portrait-backend/internal/core/training"
	"portrait-backend/internal/database"
	"portrait-backend/internal/messaging"
	"portrait-backend/internal/metrics"
	"portrait-backend/internal/replicate"
	"portrait-backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeReplicate struct {
	mu sync.Mutex

	trainings   []replicate.Training
	predictions []replicate.Prediction
	downloads   map[string][]byte

	created        []replicate.TrainingInput
	canceled       []string
	predictionArgs []string
	trainingPolls  int
	predictPolls   int

	createDelay    time.Duration
	onTrainingPoll func(poll int)
}

func (f *fakeReplicate) CreateTraining(ctx context.Context, trainerModel, trainerVersion, destination string, input replicate.TrainingInput) (replicate.Training, error) {
	time.Sleep(f.createDelay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, input)
	return replicate.Training{Id: fmt.Sprintf("training-%d", len(f.created)), Status: replicate.StatusStarting}, nil
}

// GetTraining replays the scripted responses, repeating the last one.
func (f *fakeReplicate) GetTraining(ctx context.Context, id string) (replicate.Training, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := min(f.trainingPolls, len(f.trainings)-1)
	f.trainingPolls++
	if f.onTrainingPoll != nil {
		f.onTrainingPoll(f.trainingPolls)
	}
	return f.trainings[idx], nil
}

func (f *fakeReplicate) CancelTraining(ctx context.Context, id string) (replicate.Training, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return replicate.Training{Id: id, Status: replicate.StatusCanceled}, nil
}

func (f *fakeReplicate) CreatePrediction(ctx context.Context, version string, input map[string]any) (replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictionArgs = append(f.predictionArgs, version, input["prompt"].(string))
	return replicate.Prediction{Id: "prediction-1", Status: replicate.StatusStarting}, nil
}

func (f *fakeReplicate) GetPrediction(ctx context.Context, id string) (replicate.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := min(f.predictPolls, len(f.predictions)-1)
	f.predictPolls++
	return f.predictions[idx], nil
}

func (f *fakeReplicate) predictionPolls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.predictPolls
}

func (f *fakeReplicate) setPredictions(predictions ...replicate.Prediction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions = predictions
	f.predictPolls = 0
}

func (f *fakeReplicate) Download(ctx context.Context, url string) ([]byte, error) {
	data, ok := f.downloads[url]
	if !ok {
		return nil, replicate.ErrNotFound
	}
	return data, nil
}

type fakeTask struct {
	queue    string
	payload  []byte
	acked    bool
	nacked   bool
	rejected bool
}

func (t *fakeTask) Type() string    { return t.queue }
func (t *fakeTask) Payload() []byte { return t.payload }
func (t *fakeTask) Ack() error      { t.acked = true; return nil }
func (t *fakeTask) Nack() error     { t.nacked = true; return nil }
func (t *fakeTask) Reject() error   { t.rejected = true; return nil }

func newTask(t *testing.T, queue string, payload any) *fakeTask {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &fakeTask{queue: queue, payload: data}
}

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=5000"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func testImage(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, client *fakeReplicate, maxPolls int) (*TaskProcessor, *gorm.DB, *storage.LocalProvider) {
	db := createDB(t)
	provider := storage.NewLocalProvider(t.TempDir(), "http://localhost:3001/storage")
	queue := messaging.NewInMemoryQueue()

	proc := NewTaskProcessor(db, provider, queue, queue, client, ProcessorConfig{
		TrainerModel:   "ostris/flux-dev-lora-trainer",
		TrainerVersion: "v0",
		Destination:    "owner/portraits",
		TrainingSteps:  1000,
		PollInterval:   time.Millisecond,
		MaxPolls:       maxPolls,
	})
	t.Cleanup(proc.Stop)

	return proc, db, provider
}

func insertSession(t *testing.T, db *gorm.DB, status string) database.TrainingSession {
	session := database.TrainingSession{
		Id:              uuid.New(),
		UserId:          "user-1",
		TriggerWord:     "PERSON_ABCDE",
		TrainingDataUrl: "http://localhost:3001/storage/training_data/user-1/PERSON_ABCDE/1.zip",
		NumImages:       12,
		Status:          status,
		CreationTime:    time.Now().UTC(),
	}
	require.NoError(t, db.Create(&session).Error)
	return session
}

func TestTrainTaskCompletes(t *testing.T) {
	client := &fakeReplicate{trainings: []replicate.Training{
		{Id: "training-1", Status: replicate.StatusProcessing, Logs: "starting"},
		{Id: "training-1", Status: replicate.StatusProcessing, Logs: "flux_train_replicate:  10%|#  | 100/1000"},
		{Id: "training-1", Status: replicate.StatusProcessing, Logs: "flux_train_replicate:  45%|#### | 450/1000"},
		{Id: "training-1", Status: replicate.StatusSucceeded, Output: &replicate.TrainingOutput{Version: "owner/portraits:v1", Weights: "https://weights/lora.tar"}},
	}}
	proc, db, _ := newTestProcessor(t, client, 10)
	session := insertSession(t, db, database.StatusProcessing)

	task := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	require.Len(t, client.created, 1)
	assert.Equal(t, session.TrainingDataUrl, client.created[0].InputImages)
	assert.Equal(t, "PERSON_ABCDE", client.created[0].TriggerWord)
	assert.Equal(t, 1000, client.created[0].Steps)

	updated, err := database.GetSession(context.Background(), db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, updated.Status)
	assert.Equal(t, 100.0, updated.Progress)
	assert.Equal(t, 3, updated.PollCount)
	assert.Equal(t, "training-1", updated.ReplicateTrainingId.String)
	assert.Equal(t, "owner/portraits:v1", updated.ModelVersion.String)
	assert.Equal(t, "https://weights/lora.tar", updated.WeightsUrl.String)
	assert.True(t, updated.CompletionTime.Valid)

	var input replicate.TrainingInput
	require.NoError(t, json.Unmarshal(updated.TrainingInput, &input))
	assert.Equal(t, "PERSON_ABCDE", input.TriggerWord)
}

func TestTrainTaskFails(t *testing.T) {
	client := &fakeReplicate{trainings: []replicate.Training{
		{Id: "training-1", Status: replicate.StatusProcessing, Logs: "30%|###"},
		{Id: "training-1", Status: replicate.StatusFailed, Error: json.RawMessage(`"CUDA out of memory"`)},
	}}
	proc, db, _ := newTestProcessor(t, client, 10)
	session := insertSession(t, db, database.StatusProcessing)

	task := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	updated, err := database.GetSession(context.Background(), db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, updated.Status)
	assert.Equal(t, "CUDA out of memory", updated.Error.String)
	assert.Equal(t, 30.0, updated.Progress)
}

func TestTrainTaskTimesOut(t *testing.T) {
	client := &fakeReplicate{trainings: []replicate.Training{
		{Id: "training-1", Status: replicate.StatusProcessing},
	}}
	proc, db, _ := newTestProcessor(t, client, 3)
	session := insertSession(t, db, database.StatusProcessing)

	task := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	updated, err := database.GetSession(context.Background(), db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, updated.Status)
	assert.Equal(t, "training timed out", updated.Error.String)
	assert.Equal(t, 3, updated.PollCount)
	assert.Equal(t, []string{"training-1"}, client.canceled)
}

func TestTrainTaskResumesExistingTraining(t *testing.T) {
	client := &fakeReplicate{trainings: []replicate.Training{
		{Id: "training-9", Status: replicate.StatusSucceeded, Output: &replicate.TrainingOutput{Version: "owner/portraits:v9"}},
	}}
	proc, db, _ := newTestProcessor(t, client, 10)
	session := insertSession(t, db, database.StatusProcessing)
	require.NoError(t, database.ClaimSessionTraining(context.Background(), db, session.Id, "training-9", nil))

	task := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
	proc.ProcessTask(task)

	assert.Empty(t, client.created)

	updated, err := database.GetSession(context.Background(), db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, updated.Status)
	assert.Equal(t, "owner/portraits:v9", updated.ModelVersion.String)
}

func TestTrainTaskSkipsFinishedSessions(t *testing.T) {
	client := &fakeReplicate{}
	proc, db, _ := newTestProcessor(t, client, 10)
	session := insertSession(t, db, database.StatusCompleted)

	task := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
	proc.ProcessTask(task)
	assert.True(t, task.acked)
	assert.Empty(t, client.created)

	missing := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: uuid.New()})
	proc.ProcessTask(missing)
	assert.True(t, missing.acked)
}

func TestTrainTaskStopsWhenSessionReaped(t *testing.T) {
	client := &fakeReplicate{trainings: []replicate.Training{
		{Id: "training-1", Status: replicate.StatusProcessing},
	}}
	proc, db, _ := newTestProcessor(t, client, 100)
	session := insertSession(t, db, database.StatusProcessing)

	client.onTrainingPoll = func(poll int) {
		if poll == 2 {
			_, err := NewReaper(db, -time.Hour, time.Minute).Sweep(context.Background())
			require.NoError(t, err)
		}
	}

	task := newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	updated, err := database.GetSession(context.Background(), db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, updated.Status)
	assert.Equal(t, "training session expired", updated.Error.String)
	assert.Equal(t, 1, updated.PollCount)
	assert.Equal(t, 2, client.trainingPolls)
	assert.Equal(t, []string{"training-1"}, client.canceled)
}

func TestTrainTaskAcrossWorkersStartsOneTraining(t *testing.T) {
	db := createDB(t)
	client := &fakeReplicate{
		createDelay: 50 * time.Millisecond,
		trainings: []replicate.Training{
			{Status: replicate.StatusSucceeded, Output: &replicate.TrainingOutput{Version: "owner/portraits:v1"}},
		},
	}
	session := insertSession(t, db, database.StatusProcessing)

	tasks := make([]*fakeTask, 2)
	var wg sync.WaitGroup
	for i := range tasks {
		queue := messaging.NewInMemoryQueue()
		proc := NewTaskProcessor(db, storage.NewLocalProvider(t.TempDir(), ""), queue, queue, client, ProcessorConfig{
			PollInterval: time.Millisecond,
			MaxPolls:     10,
		})
		t.Cleanup(proc.Stop)

		tasks[i] = newTask(t, messaging.TrainingQueue, messaging.TrainTaskPayload{SessionId: session.Id})
		wg.Add(1)
		go func(task *fakeTask) {
			defer wg.Done()
			proc.ProcessTask(task)
		}(tasks[i])
	}
	wg.Wait()

	for _, task := range tasks {
		assert.True(t, task.acked)
	}

	updated, err := database.GetSession(context.Background(), db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, updated.Status)
	assert.Equal(t, "owner/portraits:v1", updated.ModelVersion.String)

	// Every training but the claimed one is canceled.
	require.True(t, updated.ReplicateTrainingId.Valid)
	assert.Len(t, client.created, len(client.canceled)+1)
	assert.NotContains(t, client.canceled, updated.ReplicateTrainingId.String)
}

func TestClaimSessionTraining(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()
	session := insertSession(t, db, database.StatusProcessing)

	require.NoError(t, database.ClaimSessionTraining(ctx, db, session.Id, "training-1", nil))
	assert.ErrorIs(t, database.ClaimSessionTraining(ctx, db, session.Id, "training-2", nil), database.ErrTrainingClaimed)

	updated, err := database.GetSession(ctx, db, session.Id)
	require.NoError(t, err)
	assert.Equal(t, "training-1", updated.ReplicateTrainingId.String)

	finished := insertSession(t, db, database.StatusFailed)
	assert.ErrorIs(t, database.ClaimSessionTraining(ctx, db, finished.Id, "training-3", nil), database.ErrTrainingClaimed)
}

func TestProcessTaskRejectsBadMessages(t *testing.T) {
	proc, _, _ := newTestProcessor(t, &fakeReplicate{}, 10)

	rejected := metrics.TasksProcessed.WithLabelValues(messaging.TrainingQueue, metrics.OutcomeRejected)
	before := testutil.ToFloat64(rejected)

	unknown := &fakeTask{queue: "unknown_queue", payload: []byte(`{}`)}
	proc.ProcessTask(unknown)
	assert.True(t, unknown.rejected)

	malformed := &fakeTask{queue: messaging.TrainingQueue, payload: []byte(`{not json`)}
	proc.ProcessTask(malformed)
	assert.True(t, malformed.rejected)

	assert.Equal(t, before+1, testutil.ToFloat64(rejected))
}

func createGeneration(t *testing.T, db *gorm.DB, session database.TrainingSession) database.Generation {
	generation := database.Generation{
		Id:           uuid.New(),
		SessionId:    session.Id,
		Prompt:       "A photo of PERSON_ABCDE, on the moon",
		Status:       database.StatusProcessing,
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&generation).Error)
	return generation
}

func TestGenerateTaskStoresResults(t *testing.T) {
	trainingZip, err := archive.PackTrainingImages([][]byte{testImage(t), testImage(t)})
	require.NoError(t, err)

	client := &fakeReplicate{
		predictions: []replicate.Prediction{
			{Id: "prediction-1", Status: replicate.StatusProcessing},
			{Id: "prediction-1", Status: replicate.StatusSucceeded, Output: json.RawMessage(`["https://replicate.delivery/out-0.webp"]`)},
		},
		downloads: map[string][]byte{
			"https://replicate.delivery/out-0.webp":                                   testImage(t),
			"http://localhost:3001/storage/training_data/user-1/PERSON_ABCDE/1.zip": trainingZip,
		},
	}
	proc, db, provider := newTestProcessor(t, client, 10)
	ctx := context.Background()

	session := insertSession(t, db, database.StatusProcessing)
	require.NoError(t, database.CompleteSession(ctx, db, session.Id, "owner/portraits:v1", ""))
	generation := createGeneration(t, db, session)

	task := newTask(t, messaging.GenerationQueue, messaging.GenerateTaskPayload{GenerationId: generation.Id})
	proc.ProcessTask(task)
	assert.True(t, task.acked)

	assert.Equal(t, []string{"v1", "A photo of PERSON_ABCDE, on the moon"}, client.predictionArgs)

	updated, err := database.GetGeneration(ctx, db, generation.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusCompleted, updated.Status)
	assert.Equal(t, "prediction-1", updated.PredictionId.String)
	assert.Equal(t, "http://localhost:3001/storage/public-images/user-1/PERSON_ABCDE/generations/"+generation.Id.String()+".jpg", updated.OutputUrl.String)

	for _, name := range []string{training.StylizedImageName, training.OriginalImageName} {
		_, err := provider.GetObject(ctx, training.DefaultResultBucket, training.ResultKey("user-1", "PERSON_ABCDE", name))
		assert.NoError(t, err, name)
	}
}

func TestGenerateTaskFailure(t *testing.T) {
	client := &fakeReplicate{predictions: []replicate.Prediction{
		{Id: "prediction-1", Status: replicate.StatusFailed, Error: json.RawMessage(`"NSFW content detected"`)},
	}}
	proc, db, _ := newTestProcessor(t, client, 10)
	ctx := context.Background()

	session := insertSession(t, db, database.StatusProcessing)
	require.NoError(t, database.CompleteSession(ctx, db, session.Id, "owner/portraits:v1", ""))
	generation := createGeneration(t, db, session)

	proc.ProcessTask(newTask(t, messaging.GenerationQueue, messaging.GenerateTaskPayload{GenerationId: generation.Id}))

	updated, err := database.GetGeneration(ctx, db, generation.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, updated.Status)
	assert.Equal(t, "NSFW content detected", updated.Error.String)
}

func TestGenerateTaskRequiresTrainedModel(t *testing.T) {
	client := &fakeReplicate{}
	proc, db, _ := newTestProcessor(t, client, 10)

	session := insertSession(t, db, database.StatusProcessing)
	generation := createGeneration(t, db, session)

	proc.ProcessTask(newTask(t, messaging.GenerationQueue, messaging.GenerateTaskPayload{GenerationId: generation.Id}))

	updated, err := database.GetGeneration(context.Background(), db, generation.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, updated.Status)
	assert.Equal(t, "model is not trained", updated.Error.String)
	assert.Empty(t, client.predictionArgs)
}

func TestGenerateTaskResumesAfterShutdown(t *testing.T) {
	client := &fakeReplicate{predictions: []replicate.Prediction{
		{Id: "prediction-1", Status: replicate.StatusProcessing},
	}}
	proc, db, _ := newTestProcessor(t, client, 100000)
	ctx := context.Background()

	session := insertSession(t, db, database.StatusProcessing)
	require.NoError(t, database.CompleteSession(ctx, db, session.Id, "owner/portraits:v1", ""))
	generation := createGeneration(t, db, session)

	task := newTask(t, messaging.GenerationQueue, messaging.GenerateTaskPayload{GenerationId: generation.Id})
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.ProcessTask(task)
	}()

	require.Eventually(t, func() bool { return client.predictionPolls() > 0 }, 5*time.Second, time.Millisecond)
	proc.Stop()
	<-done
	assert.True(t, task.nacked)

	interrupted, err := database.GetGeneration(ctx, db, generation.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusProcessing, interrupted.Status)
	assert.Equal(t, "prediction-1", interrupted.PredictionId.String)

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()
	restarted := NewTaskProcessor(db, storage.NewLocalProvider(t.TempDir(), ""), queue, queue, client, ProcessorConfig{
		PollInterval: time.Millisecond,
		MaxPolls:     10,
	})
	require.NoError(t, restarted.ResumeUnfinished(ctx))

	resumed := <-queue.Tasks()
	assert.Equal(t, messaging.GenerationQueue, resumed.Type())
	var payload messaging.GenerateTaskPayload
	require.NoError(t, json.Unmarshal(resumed.Payload(), &payload))
	assert.Equal(t, generation.Id, payload.GenerationId)

	client.setPredictions(replicate.Prediction{Id: "prediction-1", Status: replicate.StatusFailed, Error: json.RawMessage(`"NSFW content detected"`)})
	restarted.ProcessTask(resumed)

	finished, err := database.GetGeneration(ctx, db, generation.Id)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, finished.Status)
	assert.Equal(t, "NSFW content detected", finished.Error.String)
	// The stored prediction is polled again instead of starting a new one.
	assert.Len(t, client.predictionArgs, 2)
}

func TestPredictionVersion(t *testing.T) {
	assert.Equal(t, "abc123", PredictionVersion("owner/model:abc123"))
	assert.Equal(t, "abc123", PredictionVersion("abc123"))
}

func TestResumeUnfinished(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	proc := NewTaskProcessor(db, storage.NewLocalProvider(t.TempDir(), ""), queue, queue, &fakeReplicate{}, ProcessorConfig{})

	running := insertSession(t, db, database.StatusProcessing)
	trained := insertSession(t, db, database.StatusCompleted)
	generating := createGeneration(t, db, trained)
	generated := createGeneration(t, db, trained)
	require.NoError(t, database.UpdateGenerationStatus(context.Background(), db, generated.Id, database.StatusCompleted, "http://localhost/out.jpg", ""))

	require.NoError(t, proc.ResumeUnfinished(context.Background()))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.TrainingQueue, task.Type())
	var payload messaging.TrainTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, running.Id, payload.SessionId)

	task = <-queue.Tasks()
	assert.Equal(t, messaging.GenerationQueue, task.Type())
	var generatePayload messaging.GenerateTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &generatePayload))
	assert.Equal(t, generating.Id, generatePayload.GenerationId)

	select {
	case <-queue.Tasks():
		t.Fatal("only unfinished work should be requeued")
	default:
	}
}

func TestPoll(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, 5, 0, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Poll(context.Background(), time.Millisecond, 5, 3, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, ErrPollLimit)
	assert.Equal(t, 2, calls)

	boom := errors.New("boom")
	err = Poll(context.Background(), time.Millisecond, 5, 0, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Poll(ctx, time.Hour, 5, 0, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaperSweep(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	stale := insertSession(t, db, database.StatusProcessing)
	require.NoError(t, db.Model(&stale).Update("creation_time", time.Now().UTC().Add(-3*time.Hour)).Error)
	fresh := insertSession(t, db, database.StatusProcessing)
	done := insertSession(t, db, database.StatusCompleted)
	require.NoError(t, db.Model(&done).Update("creation_time", time.Now().UTC().Add(-3*time.Hour)).Error)

	staleGeneration := createGeneration(t, db, done)
	require.NoError(t, db.Model(&staleGeneration).Update("creation_time", time.Now().UTC().Add(-24*time.Hour)).Error)
	freshGeneration := createGeneration(t, db, done)

	reaper := NewReaper(db, 2*time.Hour, time.Minute)
	reaped, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reaped)

	for id, status := range map[uuid.UUID]string{staleGeneration.Id: database.StatusFailed, freshGeneration.Id: database.StatusProcessing} {
		generation, err := database.GetGeneration(ctx, db, id)
		require.NoError(t, err)
		assert.Equal(t, status, generation.Status)
	}

	for id, status := range map[uuid.UUID]string{stale.Id: database.StatusFailed, fresh.Id: database.StatusProcessing, done.Id: database.StatusCompleted} {
		session, err := database.GetSession(ctx, db, id)
		require.NoError(t, err)
		assert.Equal(t, status, session.Status)
	}
}
