package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var queues = []string{ConvertQueue}

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

func declareQueues(channel *amqp.Channel) error {
	for _, queue := range queues {
		if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare rabbitmq queue %s: %w", queue, err)
		}
	}
	return nil
}

type RabbitMQPublisher struct {
	connLock   sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	closing    chan struct{}
	destructor sync.Once
}

var _ Publisher = &RabbitMQPublisher{}

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL, closing: make(chan struct{})}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := connectToRabbitMQ(p.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareQueues(channel); err != nil {
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = channel

	slog.Info("rabbitmq channel opened and queues declared")

	go p.handleReconnect(channel)

	return nil
}

func (p *RabbitMQPublisher) handleReconnect(channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	err, ok := <-notifyClose
	if !ok {
		slog.Info("rabbitmq channel closed")
		return
	}

	slog.Warn("rabbitmq connection lost, attempting to reconnect", "error", err)

	// Publishing blocks until the connection is restored.
	p.connLock.Lock()
	defer p.connLock.Unlock()

	p.channel = nil
	p.conn = nil
	for {
		select {
		case <-p.closing:
			return
		default:
		}

		if p.connect() == nil {
			slog.Info("successfully reconnected to rabbitmq")
			return
		}
		time.Sleep(RetryDelay * 10)
	}
}

func (p *RabbitMQPublisher) publishTaskInternal(ctx context.Context, queueName string, payload any) error {
	p.connLock.RLock()
	defer p.connLock.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal payload", "queue", queueName, "error", err)
		return fmt.Errorf("failed to marshal %s payload: %w", queueName, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		slog.Error("failed to publish task", "queue", queueName, "error", err)
		return fmt.Errorf("failed to publish %s: %w", queueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) PublishConvertTask(ctx context.Context, payload ConvertTaskPayload) error {
	return p.publishTaskInternal(ctx, ConvertQueue, payload)
}

func (p *RabbitMQPublisher) Close() {
	p.destructor.Do(func() {
		close(p.closing)

		p.connLock.RLock()
		defer p.connLock.RUnlock()

		if p.conn == nil {
			return
		}
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack drops the message without requeueing it, a failed conversion is
// recorded in the database rather than retried.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

type RabbitMQReceiver struct {
	tasks     chan Task
	url       string
	prefetch  int
	stop      chan struct{}
	destroyed sync.Once
}

var _ Reciever = &RabbitMQReceiver{}

// NewRabbitMQReceiver consumes every queue with at most prefetch unacked
// messages in flight.
func NewRabbitMQReceiver(rabbitMQURL string, prefetch int) (*RabbitMQReceiver, error) {
	c := &RabbitMQReceiver{
		tasks:    make(chan Task),
		url:      rabbitMQURL,
		prefetch: max(prefetch, 1),
		stop:     make(chan struct{}),
	}

	if err := c.receiveTasks(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		select {
		case c.tasks <- &RabbitMQTask{d: d}:
		case <-c.stop:
			return
		}
	}
}

func (c *RabbitMQReceiver) receiveTasks() error {
	conn, err := connectToRabbitMQ(c.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "error", err)
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := channel.Qos(c.prefetch, 0, false); err != nil {
		slog.Error("failed to set channel qos", "error", err)
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	if err := declareQueues(channel); err != nil {
		conn.Close()
		return err
	}

	for _, queue := range queues {
		msgs, err := channel.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			slog.Error("failed to consume from rabbitmq queue", "queue", queue, "error", err)
			conn.Close()
			return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue, err)
		}

		go c.consume(msgs)
	}

	go c.handleReconnect(conn, channel)

	return nil
}

func (c *RabbitMQReceiver) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err, ok := <-notifyClose:
		if !ok {
			slog.Info("rabbitmq channel closed")
			return
		}

		slog.Warn("rabbitmq connection lost, attempting to reconnect", "error", err)

		for {
			select {
			case <-c.stop:
				return
			default:
			}

			if c.receiveTasks() == nil {
				slog.Info("successfully restarted rabbitmq consumer")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-c.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
		return
	}
}

func (c *RabbitMQReceiver) Tasks() <-chan Task {
	return c.tasks
}

func (c *RabbitMQReceiver) Close() {
	c.destroyed.Do(func() {
		close(c.stop)
	})
}
