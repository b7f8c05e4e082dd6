package api

import (
	"time"

	"github.com/google/uuid"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type Style struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type StylizeRequest struct {
	Image   string     `json:"image"`
	Style   string     `json:"style"`
	ImageId *uuid.UUID `json:"imageId,omitempty"`
}

type StylizeResponse struct {
	Url string `json:"url"`
}

type Image struct {
	Id           uuid.UUID  `json:"id"`
	UserId       string     `json:"user_id"`
	OriginalUrl  string     `json:"original_url"`
	ProcessedUrl string     `json:"processed_url,omitempty"`
	Style        string     `json:"style,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type TriggerWordResponse struct {
	TriggerWord string `json:"trigger_word"`
}

type TrainingSession struct {
	Id              uuid.UUID  `json:"id"`
	UserId          string     `json:"user_id"`
	TriggerWord     string     `json:"trigger_word"`
	TrainingDataUrl string     `json:"training_data_url"`
	NumImages       int        `json:"num_images"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	Error           string     `json:"error,omitempty"`
	ModelVersion    string     `json:"model_version,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type ListTrainingSessionsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type StartTrainingRequest struct {
	TrainingDataUrl string    `json:"training_data_url"`
	TriggerWord     string    `json:"trigger_word"`
	SessionId       uuid.UUID `json:"session_id"`
}

type StartTrainingResponse struct {
	SessionId uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
}

type TrainingStatus struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

type ResultsResponse struct {
	OriginalUrl string    `json:"originalUrl"`
	StylizedUrl string    `json:"stylizedUrl"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

type Generation struct {
	Id          uuid.UUID  `json:"id"`
	SessionId   uuid.UUID  `json:"session_id"`
	Prompt      string     `json:"prompt"`
	Status      string     `json:"status"`
	OutputUrl   string     `json:"output_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
