//go:build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"conll-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	publisher, receiver := setupRabbitMQContainer(t, ctx)

	t.Run("Publish and Receive ConvertTask", func(t *testing.T) {
		payload := messaging.ConvertTaskPayload{ConversionId: uuid.New()}
		require.NoError(t, publisher.PublishConvertTask(ctx, payload))

		select {
		case task := <-receiver.Tasks():
			assert.Equal(t, messaging.ConvertQueue, task.Type())

			var receivedPayload messaging.ConvertTaskPayload
			require.NoError(t, json.Unmarshal(task.Payload(), &receivedPayload))
			assert.Equal(t, payload, receivedPayload)

			require.NoError(t, task.Ack())
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}
	})

	t.Run("Rejected task is not redelivered", func(t *testing.T) {
		require.NoError(t, publisher.PublishConvertTask(ctx, messaging.ConvertTaskPayload{ConversionId: uuid.New()}))

		select {
		case task := <-receiver.Tasks():
			require.NoError(t, task.Reject())
		case <-time.After(4 * time.Second):
			t.Fatal("Timed out waiting for task")
		}

		select {
		case task := <-receiver.Tasks():
			t.Fatalf("unexpected redelivery of task: %s", task.Payload())
		case <-time.After(time.Second):
		}
	})
}
