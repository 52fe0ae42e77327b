package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"conll-backend/cmd"
	"conll-backend/internal/core"
	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	DataBucket        string `env:"DATA_BUCKET" envDefault:"conll-data"`
	ModelDir          string `env:"MODEL_DIR" envDefault:"models"`
	WorkerConcurrency int    `env:"CONCURRENCY" envDefault:"1"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s3, err := storage.NewS3Provider(context.Background(), storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
	if err != nil {
		log.Fatalf("Worker: Failed to create S3 client: %v", err)
	}

	if err := s3.CreateBucket(context.Background(), cfg.DataBucket); err != nil {
		log.Fatalf("Worker: Failed to create data bucket: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Worker: Failed to connect to RabbitMQ: %v", err)
	}

	worker := core.NewTaskProcessor(db, s3, nil, receiver, cfg.DataBucket, cfg.ModelDir)

	done := make(chan struct{})
	for i := 0; i < max(cfg.WorkerConcurrency, 1); i++ {
		go func() {
			worker.Start()
			done <- struct{}{}
		}()
	}

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for workers to finish...")

	worker.Stop()
	for i := 0; i < max(cfg.WorkerConcurrency, 1); i++ {
		<-done
	}

	log.Println("Worker process stopped.")
}
