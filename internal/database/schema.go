package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusProcessing string = "processing"
	StatusCompleted  string = "completed"
	StatusFailed     string = "failed"
)

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

type Image struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"index"`

	OriginalUrl  string
	ProcessedUrl sql.NullString
	Style        string `gorm:"size:32"`
	Status       string `gorm:"size:20;not null"`

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type TrainingSession struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId      string    `gorm:"index:idx_session_owner"`
	TriggerWord string    `gorm:"index:idx_session_owner;size:64;not null"`

	TrainingDataUrl string
	NumImages       int
	Status          string  `gorm:"size:20;not null"`
	Progress        float64 `gorm:"default:0"`
	PollCount       int     `gorm:"default:0"`
	Error           sql.NullString

	ReplicateTrainingId sql.NullString
	ModelVersion        sql.NullString
	WeightsUrl          sql.NullString
	TrainingInput       datatypes.JSON

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Generations []Generation `gorm:"foreignKey:SessionId;constraint:OnDelete:CASCADE"`
}

type Generation struct {
	Id        uuid.UUID        `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID        `gorm:"type:uuid;index"`
	Session   *TrainingSession `gorm:"foreignKey:SessionId"`

	Prompt       string
	PredictionId sql.NullString
	Status       string `gorm:"size:20;not null"`
	OutputUrl    sql.NullString
	Error        sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
