package versions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Schema as of the first release, before generations were tracked.

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

	ReplicateTrainingId sql.NullString
	ModelVersion        sql.NullString
	WeightsUrl          sql.NullString
	TrainingInput       datatypes.JSON

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func Migration0(db *gorm.DB) error {
	if err := db.AutoMigrate(&Image{}, &TrainingSession{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
