package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"conll-backend/internal/core/labels"
	"conll-backend/internal/core/split"
	"conll-backend/internal/core/utils"
	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultUploadWorkers = 4
	maxLockedConversions = 1000
)

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.Provider
	publisher messaging.Publisher
	reciever  messaging.Reciever

	dataBucket string
	// Directory of trained models, the newest one's config.json seeds the label
	// mapping when a conversion has no custom map.
	modelDir string

	uploadWorkers int
	running       *utils.KeyedMutex[uuid.UUID]

	stop     chan struct{}
	stopOnce sync.Once
}

func NewTaskProcessor(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, reciever messaging.Reciever, dataBucket, modelDir string) *TaskProcessor {
	return &TaskProcessor{
		db:            db,
		storage:       storage,
		publisher:     publisher,
		reciever:      reciever,
		dataBucket:    dataBucket,
		modelDir:      modelDir,
		uploadWorkers: defaultUploadWorkers,
		running:       utils.NewKeyedMutex[uuid.UUID](maxLockedConversions),
		stop:          make(chan struct{}),
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	tasks := proc.reciever.Tasks()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			proc.ProcessTask(task)
		case <-proc.stop:
			return
		}
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.stopOnce.Do(func() { close(proc.stop) })

	if proc.publisher != nil {
		proc.publisher.Close()
	}
	if proc.reciever != nil {
		proc.reciever.Close()
	}
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.ConvertQueue:
		var payload messaging.ConvertTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling convert task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processConvertTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processConvertTask(ctx context.Context, payload messaging.ConvertTaskPayload) error {
	var conversion database.Conversion
	if err := proc.db.WithContext(ctx).First(&conversion, "id = ?", payload.ConversionId).Error; err != nil {
		slog.Error("error fetching conversion", "conversion_id", payload.ConversionId, "error", err)
		return fmt.Errorf("error getting conversion: %w", err)
	}

	if conversion.Status == database.JobCompleted {
		slog.Info("conversion already completed, skipping", "conversion_id", conversion.Id)
		return nil
	}

	_, err := proc.RunConversion(ctx, conversion.Id)
	return err
}

// RunConversion converts the uploaded corpus of a conversion, stores every
// artifact under its output directory and records the outcome in the database.
// On failure the conversion is marked FAILED and the error is saved with it.
func (proc *TaskProcessor) RunConversion(ctx context.Context, conversionId uuid.UUID) (*ConversionResult, error) {
	if err := proc.running.Lock(conversionId); err != nil {
		return nil, fmt.Errorf("error locking conversion %s: %w", conversionId, err)
	}
	defer func() {
		if err := proc.running.Unlock(conversionId); err != nil {
			slog.Error("error unlocking conversion", "conversion_id", conversionId, "error", err)
		}
	}()

	var conversion database.Conversion
	if err := proc.db.WithContext(ctx).First(&conversion, "id = ?", conversionId).Error; err != nil {
		return nil, fmt.Errorf("error getting conversion: %w", err)
	}

	slog.Info("processing conversion", "conversion_id", conversionId, "output_dir", conversion.OutputDir)

	if err := database.UpdateConversionStatus(ctx, proc.db, conversionId, database.JobRunning); err != nil {
		return nil, fmt.Errorf("error updating conversion status: %w", err)
	}

	result, splits, err := proc.convert(ctx, conversion)
	if err != nil {
		proc.markFailed(ctx, conversionId, err)
		return nil, err
	}

	newLabels := make(map[string]bool, len(result.NewEntities))
	for _, label := range result.NewEntities {
		newLabels[label] = true
	}

	labelRows := make([]database.ConversionLabel, 0, result.Mapping.Len())
	for _, label := range result.Mapping.Labels() {
		id, _ := result.Mapping.ID(label)
		labelRows = append(labelRows, database.ConversionLabel{LabelId: id, Label: label, IsNew: newLabels[label]})
	}

	if err := database.SaveConversionResults(ctx, proc.db, conversionId, len(result.Corpus.Documents), result.Corpus.NumSentences(), splits, labelRows); err != nil {
		err = fmt.Errorf("error saving conversion results: %w", err)
		proc.markFailed(ctx, conversionId, err)
		return nil, err
	}

	slog.Info("conversion completed", "conversion_id", conversionId, "documents", len(result.Corpus.Documents))

	return result, nil
}

func (proc *TaskProcessor) markFailed(ctx context.Context, conversionId uuid.UUID, cause error) {
	slog.Error("conversion failed", "conversion_id", conversionId, "error", cause)
	database.SaveConversionError(ctx, proc.db, conversionId, cause.Error())
	if err := database.UpdateConversionStatus(ctx, proc.db, conversionId, database.JobFailed); err != nil {
		slog.Error("error marking conversion as failed", "conversion_id", conversionId, "error", err)
	}
}

// BaseMapping resolves the label mapping a conversion starts from: its custom
// map when one was given, otherwise the id2label of the newest model config.
func (proc *TaskProcessor) BaseMapping(conversion database.Conversion) (map[string]int, error) {
	if len(conversion.CustomMap) > 0 && string(conversion.CustomMap) != "null" {
		base, err := labels.ParseIDToLabel(conversion.CustomMap)
		if err != nil {
			return nil, fmt.Errorf("error parsing custom map: %w", err)
		}
		return base, nil
	}

	configPath, err := labels.FindLatestModelConfig(proc.modelDir)
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		return nil, nil
	}

	slog.Info("using label mapping of latest model", "config", configPath)
	return labels.LoadModelConfig(configPath)
}

func (proc *TaskProcessor) convert(ctx context.Context, conversion database.Conversion) (*ConversionResult, []database.ConversionSplit, error) {
	base, err := proc.BaseMapping(conversion)
	if err != nil {
		return nil, nil, err
	}

	input, err := proc.storage.GetObjectStream(ctx, proc.dataBucket, conversion.InputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening input file: %w", err)
	}
	defer input.Close()

	result, err := Convert(input, ConvertOptions{
		Ratios:      split.Ratios{Train: conversion.TrainRatio, Val: conversion.ValRatio, Test: conversion.TestRatio},
		BaseMapping: base,
		Shuffle:     conversion.Shuffle,
		Seed:        conversion.Seed,
	})
	if err != nil {
		return nil, nil, err
	}

	artifacts := BuildArtifacts(result, conversion.Parquet)

	writer := ArtifactWriter{Storage: proc.storage, Bucket: proc.dataBucket, Workers: proc.uploadWorkers}
	if err := writer.Write(ctx, conversion.OutputDir, artifacts); err != nil {
		return nil, nil, fmt.Errorf("error writing artifacts: %w", err)
	}

	files := SplitFiles(artifacts)

	splits := make([]database.ConversionSplit, 0, len(result.Subsets))
	for _, subset := range result.Subsets {
		tagCounts, err := json.Marshal(subset.Stats.TagCounts)
		if err != nil {
			return nil, nil, fmt.Errorf("error encoding tag counts: %w", err)
		}
		newEntities, err := json.Marshal(subset.Stats.NewEntities)
		if err != nil {
			return nil, nil, fmt.Errorf("error encoding new entities: %w", err)
		}
		splitFiles, err := json.Marshal(append([]string{}, files[subset.Name]...))
		if err != nil {
			return nil, nil, fmt.Errorf("error encoding split files: %w", err)
		}

		splits = append(splits, database.ConversionSplit{
			Split:              subset.Name,
			Documents:          len(subset.Documents),
			SentencesProcessed: subset.Stats.SentencesProcessed,
			UniqueTags:         subset.Stats.UniqueTags,
			TagCounts:          datatypes.JSON(tagCounts),
			NewEntities:        datatypes.JSON(newEntities),
			Files:              datatypes.JSON(splitFiles),
		})
	}

	return result, splits, nil
}
