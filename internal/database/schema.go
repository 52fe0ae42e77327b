package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type Conversion struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	// Top level directory in the data bucket holding every artifact.
	OutputDir string `gorm:"uniqueIndex;not null"`
	// Key of the uploaded corpus, relative to the data bucket.
	InputFile string `gorm:"not null"`

	Status string `gorm:"size:20;not null"`

	TrainRatio float64
	ValRatio   float64
	TestRatio  float64
	Shuffle    bool  `gorm:"default:false"`
	Seed       int64 `gorm:"default:0"`
	Parquet    bool

	CustomMap datatypes.JSON `gorm:"type:jsonb"` // {"0":"O","1":"B-PER",…}

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
	TagCounts          datatypes.JSON `gorm:"type:jsonb"` // {"O":12,"B-PER":3,…}
	NewEntities        datatypes.JSON `gorm:"type:jsonb"` // ["B-PER",…]

	Files datatypes.JSON `gorm:"type:jsonb"` // ["train.json","train.parquet",…]
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
