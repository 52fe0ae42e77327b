package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Conversion struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	OutputDir string `gorm:"uniqueIndex;not null"`
	InputFile string `gorm:"not null"`

	Status string `gorm:"size:20;not null"`

	TrainRatio float64
	ValRatio   float64
	TestRatio  float64
	Shuffle    bool  `gorm:"default:false"`
	Seed       int64 `gorm:"default:0"`

	CustomMap datatypes.JSON `gorm:"type:jsonb"`

	Documents int `gorm:"default:0"`
	Sentences int `gorm:"default:0"`

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Splits []ConversionSplit `gorm:"foreignKey:ConversionId;constraint:OnDelete:CASCADE"`
	Labels []ConversionLabel `gorm:"foreignKey:ConversionId;constraint:OnDelete:CASCADE"`
	Errors []ConversionError `gorm:"foreignKey:ConversionId;constraint:OnDelete:CASCADE"`
}

type ConversionSplit struct {
	ConversionId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Split        string    `gorm:"primaryKey;size:10"`

	Documents          int
	SentencesProcessed int
	UniqueTags         int
	TagCounts          datatypes.JSON `gorm:"type:jsonb"`
	NewEntities        datatypes.JSON `gorm:"type:jsonb"`

	Files datatypes.JSON `gorm:"type:jsonb"`
}

type ConversionLabel struct {
	ConversionId uuid.UUID `gorm:"type:uuid;primaryKey"`
	LabelId      int       `gorm:"primaryKey;autoIncrement:false"`
	Label        string    `gorm:"not null"`
	IsNew        bool
}

type ConversionError struct {
	ConversionId uuid.UUID `gorm:"type:uuid;index"`
	ErrorId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error        string
	Timestamp    time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Conversion{}, &ConversionSplit{}, &ConversionLabel{}, &ConversionError{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
