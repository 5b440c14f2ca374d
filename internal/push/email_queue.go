package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EmailJob is one queued email delivery for one recipient.
type EmailJob struct {
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Priority       string    `json:"priority"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// EmailQueue enqueues per-user email deliveries onto a secondary channel.
type EmailQueue interface {
	Enqueue(ctx context.Context, job EmailJob) error
	Close() error
}

// AMQPEmailQueue publishes email jobs to a durable RabbitMQ queue consumed by
// the mail worker elsewhere in the platform.
type AMQPEmailQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func NewAMQPEmailQueue(url, queue string) (*AMQPEmailQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &AMQPEmailQueue{conn: conn, channel: channel, queue: queue}, nil
}

func (q *AMQPEmailQueue) Enqueue(ctx context.Context, job EmailJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.channel.PublishWithContext(ctx,
		"",      // exchange
		q.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

func (q *AMQPEmailQueue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
