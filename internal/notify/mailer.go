package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EmailJob is the JSON envelope handed to the mail worker queue.
// Actual SMTP delivery happens out of process.
type EmailJob struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Mailer enqueues outbound email.
type Mailer interface {
	Send(ctx context.Context, job EmailJob) error
}

// AMQPMailer publishes email jobs to a durable RabbitMQ queue.
type AMQPMailer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPMailer dials the broker and declares the queue.
func NewAMQPMailer(url, queue string) (*AMQPMailer, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = "libris.email"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPMailer{conn: conn, ch: ch, queue: queue}, nil
}

// Send publishes one email job. The message is persistent so a broker
// restart does not drop queued mail.
func (m *AMQPMailer) Send(ctx context.Context, job EmailJob) error {
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}
	err = m.ch.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    job.QueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish email job: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (m *AMQPMailer) Close() error {
	if m.ch != nil {
		_ = m.ch.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
