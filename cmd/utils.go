package cmd

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"conll-backend/internal/database"
	"conll-backend/internal/messaging"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// RequeueConversions publishes a convert task for every conversion still
// queued, e.g. after a restart lost the in memory queue.
func RequeueConversions(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	var conversions []database.Conversion
	if err := db.WithContext(ctx).Where("status IN ?", []string{database.JobQueued, database.JobRunning}).Find(&conversions).Error; err != nil {
		return err
	}

	for _, conversion := range conversions {
		if err := publisher.PublishConvertTask(ctx, messaging.ConvertTaskPayload{ConversionId: conversion.Id}); err != nil {
			return err
		}
		slog.Info("requeued conversion", "conversion_id", conversion.Id, "status", conversion.Status)
	}

	return nil
}
