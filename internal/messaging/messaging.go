package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ConvertQueue    = "convert_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type ConvertTaskPayload struct {
	ConversionId uuid.UUID
}

type Publisher interface {
	PublishConvertTask(ctx context.Context, payload ConvertTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
