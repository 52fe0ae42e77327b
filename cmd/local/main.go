package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"conll-backend/cmd"
	"conll-backend/internal/api"
	"conll-backend/internal/core"
	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Config struct {
	Root           string `env:"ROOT" envDefault:"./conll-data"`
	Port           int    `env:"PORT" envDefault:"5000"`
	DataBucket     string `env:"DATA_BUCKET" envDefault:"output"`
	ModelDir       string `env:"MODEL_DIR" envDefault:""`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`
}

func createServer(service *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	service.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if cfg.ModelDir == "" {
		cfg.ModelDir = filepath.Join(cfg.Root, "models")
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "data_bucket", cfg.DataBucket, "model_dir", cfg.ModelDir)

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "conversions.db"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	storage, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	if err := storage.CreateBucket(context.Background(), cfg.DataBucket); err != nil {
		log.Fatalf("Failed to create data bucket: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	if err := cmd.RequeueConversions(context.Background(), db, queue); err != nil {
		log.Fatalf("Failed to requeue conversions: %v", err)
	}

	worker := core.NewTaskProcessor(db, storage, queue, queue, cfg.DataBucket, cfg.ModelDir)

	server := createServer(api.NewBackendService(db, storage, queue, worker, cfg.DataBucket, cfg.MaxUploadBytes), cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
