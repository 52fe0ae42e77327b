package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateConversionStatus(ctx context.Context, txn *gorm.DB, conversionId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Conversion{Id: conversionId}).Updates(updates).Error; err != nil {
		slog.Error("error updating conversion status", "conversion_id", conversionId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveConversionError(ctx context.Context, txn *gorm.DB, conversionId uuid.UUID, errorMessage string) {
	conversionError := ConversionError{
		ConversionId: conversionId,
		ErrorId:      uuid.New(),
		Error:        errorMessage,
		Timestamp:    time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&conversionError).Error; err != nil {
		slog.Error("error saving conversion error", "conversion_id", conversionId, "error", err)
	}
}

// SaveConversionResults replaces the splits and labels of a conversion and
// marks it completed in a single transaction.
func SaveConversionResults(ctx context.Context, db *gorm.DB, conversionId uuid.UUID, documents, sentences int, splits []ConversionSplit, labels []ConversionLabel) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("conversion_id = ?", conversionId).Delete(&ConversionSplit{}).Error; err != nil {
			return fmt.Errorf("error clearing splits: %w", err)
		}
		if err := txn.Where("conversion_id = ?", conversionId).Delete(&ConversionLabel{}).Error; err != nil {
			return fmt.Errorf("error clearing labels: %w", err)
		}

		for i := range splits {
			splits[i].ConversionId = conversionId
		}
		for i := range labels {
			labels[i].ConversionId = conversionId
		}

		if len(splits) > 0 {
			if err := txn.Create(&splits).Error; err != nil {
				return fmt.Errorf("error saving splits: %w", err)
			}
		}
		if len(labels) > 0 {
			if err := txn.Create(&labels).Error; err != nil {
				return fmt.Errorf("error saving labels: %w", err)
			}
		}

		if err := txn.Model(&Conversion{Id: conversionId}).Updates(map[string]any{
			"documents": documents,
			"sentences": sentences,
		}).Error; err != nil {
			return fmt.Errorf("error saving conversion counts: %w", err)
		}

		return UpdateConversionStatus(ctx, txn, conversionId, JobCompleted)
	})
}

func GetConversion(ctx context.Context, db *gorm.DB, conversionId uuid.UUID) (Conversion, error) {
	var conversion Conversion
	err := db.WithContext(ctx).
		Preload("Splits").
		Preload("Labels", func(db *gorm.DB) *gorm.DB { return db.Order("label_id") }).
		Preload("Errors").
		First(&conversion, "id = ?", conversionId).Error
	return conversion, err
}
