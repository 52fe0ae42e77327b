package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Ratios struct {
	Train float64 `json:"train"`
	Val   float64 `json:"val"`
	Test  float64 `json:"test"`
}

// SplitFile is encoded as a ["train.conll", 12] pair.
type SplitFile struct {
	Name      string
	Documents int
}

func (f SplitFile) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Name, f.Documents})
}

func (f *SplitFile) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("expected a [name, documents] pair, got %s", data)
	}
	if err := json.Unmarshal(pair[0], &f.Name); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &f.Documents)
}

type SplitStats struct {
	SentencesProcessed int            `json:"sentences_processed"`
	UniqueTags         int            `json:"unique_tags"`
	TagCounts          map[string]int `json:"tag_counts"`
	NewEntities        []string       `json:"new_entities"`
}

type ProcessingStep struct {
	Action string `json:"action"`

	FilesCreated []SplitFile `json:"files_created,omitempty"`
	Ratios       *Ratios     `json:"ratios,omitempty"`

	// Keyed by the subset's conll file name, e.g. "train.conll".
	Results map[string]SplitStats `json:"results,omitempty"`
}

type ProcessingInfo struct {
	Steps []ProcessingStep `json:"steps"`
}

type ProcessConllResponse struct {
	Message         string         `json:"message"`
	OutputDirectory string         `json:"output_directory"`
	ConversionId    uuid.UUID      `json:"conversion_id"`
	ProcessingInfo  ProcessingInfo `json:"processing_info"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateConversionResponse struct {
	ConversionId uuid.UUID
	OutputDir    string
}

type ListConversionsRequest struct {
	Status string `schema:"status"`
	Name   string `schema:"name"`
	Limit  int    `schema:"limit"`
	Offset int    `schema:"offset"`
}

type ConversionSplit struct {
	Split              string
	Documents          int
	SentencesProcessed int
	UniqueTags         int
	TagCounts          map[string]int
	NewEntities        []string
	Files              []string
}

type ConversionLabel struct {
	Id    int
	Label string
	IsNew bool
}

type Conversion struct {
	Id        uuid.UUID
	Name      string
	OutputDir string
	Status    string

	Ratios  Ratios
	Shuffle bool
	Seed    int64
	Parquet bool

	Documents int
	Sentences int

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Splits []ConversionSplit `json:"Splits,omitempty"`
	Labels []ConversionLabel `json:"Labels,omitempty"`
	Errors []string          `json:"Errors,omitempty"`
}
