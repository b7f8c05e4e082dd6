package versions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type trainingSessionV1 struct {
	Error sql.NullString
}

func (trainingSessionV1) TableName() string {
	return "training_sessions"
}

type Generation struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID `gorm:"type:uuid;index"`

	Prompt       string
	PredictionId sql.NullString
	Status       string `gorm:"size:20;not null"`
	OutputUrl    sql.NullString
	Error        sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func Migration1(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&trainingSessionV1{}, "Error"); err != nil {
		return fmt.Errorf("error adding Error column: %w", err)
	}

	if err := db.AutoMigrate(&Generation{}); err != nil {
		return fmt.Errorf("error creating generations table: %w", err)
	}

	return nil
}

func RollbackMigration1(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&Generation{}); err != nil {
		return fmt.Errorf("error dropping generations table: %w", err)
	}

	if err := db.Migrator().DropColumn(&trainingSessionV1{}, "Error"); err != nil {
		return fmt.Errorf("error dropping Error column: %w", err)
	}

	return nil
}
