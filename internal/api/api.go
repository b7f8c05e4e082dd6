package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"portrait-backend/internal/auth"
	"portrait-backend/internal/core/stylize"
	"portrait-backend/internal/core/training"
	"portrait-backend/internal/database"
	"portrait-backend/internal/imaging"
	"portrait-backend/internal/storage"
	"portrait-backend/pkg/api"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultMaxUploadBytes = 200 * 1024 * 1024
	multipartMemory       = 32 * 1024 * 1024
	maxListLimit          = 100
)

type BackendService struct {
	db       *gorm.DB
	storage  storage.Provider
	stylizer *stylize.Stylizer
	training *training.Service
	verifier auth.Verifier

	maxUploadBytes int64
}

func NewBackendService(db *gorm.DB, storage storage.Provider, stylizer *stylize.Stylizer, trainingService *training.Service, verifier auth.Verifier, maxUploadBytes int64) *BackendService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &BackendService{
		db:             db,
		storage:        storage,
		stylizer:       stylizer,
		training:       trainingService,
		verifier:       verifier,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Get("/styles", RestHandler(s.ListStyles))
	r.Post("/stylize", RestHandler(s.Stylize))
	r.Get("/trigger-word", RestHandler(s.NewTriggerWord))

	r.Post("/train", RestHandler(s.StartTraining))
	r.Get("/status/{user_id}/{trigger_word}", RestHandler(s.TrainingStatus))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))

		r.Route("/images", func(r chi.Router) {
			r.Post("/", RestHandler(s.UploadImage))
			r.Get("/{image_id}", RestHandler(s.GetImage))
		})

		r.Route("/training-sessions", func(r chi.Router) {
			r.Post("/", RestHandler(s.CreateTrainingSession))
			r.Get("/", RestHandler(s.ListTrainingSessions))
			r.Get("/{session_id}", RestHandler(s.GetTrainingSession))
			r.Post("/{session_id}/generate", RestHandler(s.Generate))
		})

		r.Get("/generations/{generation_id}", RestHandler(s.GetGeneration))
		r.Get("/results/{user_id}/{trigger_word}", RestHandler(s.GetResults))
	})
}

// serviceError maps the errors of the core packages onto response codes.
func serviceError(err error, action string) error {
	switch {
	case errors.Is(err, stylize.ErrImageRequired),
		errors.Is(err, stylize.ErrInvalidStyle),
		errors.Is(err, imaging.ErrDecode),
		errors.Is(err, training.ErrTooManyImages),
		errors.Is(err, training.ErrTooFewImages),
		errors.Is(err, training.ErrInvalidTriggerWord),
		errors.Is(err, training.ErrTrainingDataMissing),
		errors.Is(err, training.ErrTriggerWordMismatch),
		errors.Is(err, training.ErrPromptRequired):
		return CodedError(http.StatusBadRequest, err)

	case errors.Is(err, database.ErrSessionNotFound),
		errors.Is(err, database.ErrGenerationNotFound),
		errors.Is(err, training.ErrNotOwner):
		return CodedError(http.StatusNotFound, err)

	case errors.Is(err, training.ErrTrainingInProgress),
		errors.Is(err, training.ErrTrainingFailed),
		errors.Is(err, database.ErrSessionFinished):
		return CodedError(http.StatusConflict, err)
	}

	slog.Error("error handling request", "action", action, "error", err)
	return CodedErrorf(http.StatusInternalServerError, "%s: %v", action, err)
}

func requireUser(r *http.Request) (auth.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return auth.User{}, CodedErrorf(http.StatusUnauthorized, "unauthorized")
	}
	return user, nil
}

func (s *BackendService) ListStyles(r *http.Request) (any, error) {
	return convertStyles(s.stylizer.Styles()), nil
}

func (s *BackendService) Stylize(r *http.Request) (any, error) {
	req, err := ParseRequest[api.StylizeRequest](r)
	if err != nil {
		return nil, err
	}

	var imageId uuid.NullUUID
	if req.ImageId != nil {
		imageId = uuid.NullUUID{UUID: *req.ImageId, Valid: true}
	}

	url, err := s.stylizer.Stylize(r.Context(), stylize.Request{Image: req.Image, Style: req.Style, ImageId: imageId})
	if err != nil {
		if errors.Is(err, stylize.ErrImageRequired) || errors.Is(err, stylize.ErrInvalidStyle) {
			return nil, CodedError(http.StatusBadRequest, err)
		}
		slog.Error("error stylizing image", "style", req.Style, "error", err)
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	return api.StylizeResponse{Url: url}, nil
}

func (s *BackendService) NewTriggerWord(r *http.Request) (any, error) {
	return api.TriggerWordResponse{TriggerWord: training.NewTriggerWord()}, nil
}

func (s *BackendService) UploadImage(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes)
	files, err := ReadUploadedFiles(r, "image", multipartMemory)
	if err != nil {
		return nil, err
	}
	if len(files) != 1 {
		return nil, CodedErrorf(http.StatusBadRequest, "exactly one image is required")
	}

	style := r.FormValue("style")
	if style != "" {
		if _, err := s.stylizer.Style(style); err != nil {
			return nil, CodedError(http.StatusBadRequest, err)
		}
	}

	resized, err := imaging.ResizeDefault(files[0])
	if err != nil {
		return nil, serviceError(err, "error processing image")
	}

	ctx := r.Context()

	image := database.Image{
		Id:           uuid.New(),
		UserId:       user.Id,
		Style:        style,
		Status:       database.StatusProcessing,
		CreationTime: time.Now().UTC(),
	}

	key := fmt.Sprintf("%s/uploads/%s.jpg", user.Id, image.Id)
	if err := s.storage.PutObject(ctx, s.training.ResultBucket(), key, bytes.NewReader(resized), imaging.ContentType); err != nil {
		return nil, serviceError(err, "error uploading image")
	}
	image.OriginalUrl = s.storage.PublicURL(s.training.ResultBucket(), key)

	if err := s.db.WithContext(ctx).Create(&image).Error; err != nil {
		return nil, serviceError(err, "error saving image")
	}

	return convertImage(image), nil
}

func (s *BackendService) GetImage(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	imageId, err := URLParamUUID(r, "image_id")
	if err != nil {
		return nil, err
	}

	var image database.Image
	if err := s.db.WithContext(r.Context()).First(&image, "id = ? AND user_id = ?", imageId, user.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "image not found")
		}
		return nil, serviceError(err, "error retrieving image")
	}

	return convertImage(image), nil
}

func (s *BackendService) CreateTrainingSession(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUploadBytes)
	files, err := ReadUploadedFiles(r, "images", multipartMemory)
	if err != nil {
		return nil, err
	}

	if err := training.CheckImageCount(len(files)); err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	session, err := s.training.Prepare(r.Context(), user.Id, r.FormValue("trigger_word"), files)
	if err != nil {
		return nil, serviceError(err, "error preparing training session")
	}

	return convertSession(session), nil
}

func (s *BackendService) ListTrainingSessions(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListTrainingSessionsParams](r)
	if err != nil {
		return nil, err
	}

	switch params.Status {
	case "", database.StatusProcessing, database.StatusCompleted, database.StatusFailed:
	default:
		return nil, CodedErrorf(http.StatusBadRequest, "invalid status '%s'", params.Status)
	}
	if params.Limit < 0 || params.Limit > maxListLimit {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be between 0 and %d", maxListLimit)
	}

	sessions, err := s.training.List(r.Context(), user.Id, training.ListFilter{Status: params.Status, Limit: params.Limit})
	if err != nil {
		return nil, serviceError(err, "error listing training sessions")
	}

	return convertSessions(sessions), nil
}

func (s *BackendService) GetTrainingSession(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	sessionId, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}

	session, err := s.training.Session(r.Context(), user.Id, sessionId)
	if err != nil {
		return nil, serviceError(err, "error retrieving training session")
	}

	return convertSession(session), nil
}

func (s *BackendService) Generate(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	sessionId, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.GenerateRequest](r)
	if err != nil {
		return nil, err
	}

	generation, err := s.training.Generate(r.Context(), user.Id, sessionId, req.Prompt)
	if err != nil {
		return nil, serviceError(err, "error queueing generation")
	}

	return convertGeneration(generation), nil
}

func (s *BackendService) GetGeneration(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	generationId, err := URLParamUUID(r, "generation_id")
	if err != nil {
		return nil, err
	}

	generation, err := s.training.GetGeneration(r.Context(), user.Id, generationId)
	if err != nil {
		return nil, serviceError(err, "error retrieving generation")
	}

	return convertGeneration(generation), nil
}

func (s *BackendService) StartTraining(r *http.Request) (any, error) {
	req, err := ParseRequest[api.StartTrainingRequest](r)
	if err != nil {
		return nil, err
	}

	if req.SessionId == uuid.Nil {
		return nil, CodedErrorf(http.StatusBadRequest, "session_id is required")
	}

	session, err := s.training.Start(r.Context(), training.StartRequest{
		TrainingDataUrl: req.TrainingDataUrl,
		TriggerWord:     req.TriggerWord,
		SessionId:       req.SessionId,
	})
	if err != nil {
		return nil, serviceError(err, "error starting training")
	}

	return api.StartTrainingResponse{SessionId: session.Id, Status: session.Status}, nil
}

func (s *BackendService) TrainingStatus(r *http.Request) (any, error) {
	userId := chi.URLParam(r, "user_id")
	triggerWord := chi.URLParam(r, "trigger_word")

	session, err := s.training.Status(r.Context(), userId, triggerWord)
	if err != nil {
		return nil, serviceError(err, "error retrieving training status")
	}

	return api.TrainingStatus{Status: session.Status, Progress: session.Progress, Error: session.Error.String}, nil
}

func (s *BackendService) GetResults(r *http.Request) (any, error) {
	user, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	userId := chi.URLParam(r, "user_id")
	if !strings.EqualFold(userId, user.Id) {
		return nil, CodedErrorf(http.StatusForbidden, "results belong to another user")
	}

	results, err := s.training.Results(r.Context(), user.Id, chi.URLParam(r, "trigger_word"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "result images not found")
		}
		return nil, serviceError(err, "error retrieving results")
	}

	return api.ResultsResponse{OriginalUrl: results.OriginalUrl, StylizedUrl: results.StylizedUrl, ExpiresAt: results.ExpiresAt}, nil
}
