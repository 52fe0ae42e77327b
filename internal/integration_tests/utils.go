//go:build integration

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conll-backend/internal/database"
	"conll-backend/internal/messaging"
	"conll-backend/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const (
	dataBucket = "test-data-bucket"

	minioUsername = "admin"
	minioPassword = "password"
)

func createDB(t *testing.T) *gorm.DB {
	uri := setupPostgresContainer(t, context.Background())
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)

	return db
}

func setupRabbitMQContainer(t *testing.T, ctx context.Context) (*messaging.RabbitMQPublisher, *messaging.RabbitMQReceiver) {
	rabbitmqContainer, err := rabbitmq.Run(ctx, "rabbitmq:3.11-management")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		err := rabbitmqContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate RabbitMQ container")
	})

	connStr, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	publisher, err := messaging.NewRabbitMQPublisher(connStr)
	require.NoError(t, err)

	receiver, err := messaging.NewRabbitMQReceiver(connStr, 1)
	require.NoError(t, err)

	t.Cleanup(func() {
		publisher.Close()
		receiver.Close()
	})

	return publisher, receiver
}

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupS3Provider(t *testing.T, ctx context.Context) *storage.S3Provider {
	endpoint := setupMinioContainer(t, ctx)

	s3, err := storage.NewS3Provider(ctx, storage.S3ProviderConfig{
		S3EndpointURL:     endpoint,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
	})
	require.NoError(t, err)
	require.NoError(t, s3.CreateBucket(ctx, dataBucket))

	return s3
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func makeCorpus(docs int) string {
	var sb strings.Builder
	for i := 0; i < docs; i++ {
		fmt.Fprintf(&sb, "-DOCSTART- -X- O O\n\n")
		fmt.Fprintf(&sb, "Alice%d NNP B-PER\nvisited VBD O\nParis NNP B-LOC\n\n", i)
		fmt.Fprintf(&sb, "It PRP O\nrained VBD O\n\n")
	}
	return sb.String()
}

func uploadCorpus(api http.Handler, endpoint, corpus string, fields map[string]string, dest any) error {
	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}

	f, err := writer.CreateFormFile("file", "corpus.conll")
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(corpus)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req := httptest.NewRequest(http.MethodPost, endpoint, buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	return json.Unmarshal(rr.Body.Bytes(), dest)
}

func httpGet(api http.Handler, endpoint string, dest any) error {
	req := httptest.NewRequest(http.MethodGet, endpoint, nil)

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
