package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"waingest/internal/retry"
)

// Publisher sends extraction jobs to the broker.
type Publisher interface {
	PublishExtractionJob(ctx context.Context, job ExtractionJob) error
	Close() error
}

type rmqPublisher struct {
	conn       *amqp091.Connection
	exchange   string
	routingKey string
	log        *logrus.Logger
}

// DialWithRetry opens an AMQP connection, retrying with exponential
// backoff so the service survives a broker that is still starting.
func DialWithRetry(ctx context.Context, url string, attempts int, logger *logrus.Logger) (*amqp091.Connection, error) {
	cfg := retry.DefaultBackoffConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = 15 * time.Second
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}

	var conn *amqp091.Connection
	err := retry.NewBackoff(cfg).Retry(ctx, func() error {
		var dialErr error
		conn, dialErr = amqp091.Dial(url)
		if dialErr != nil {
			logger.WithError(dialErr).Warn("Failed to connect to message broker, retrying")
		}
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message broker: %w", err)
	}
	return conn, nil
}

// NewPublisher declares the topic exchange and returns a publisher
// bound to it. The connection is owned by the publisher and closed
// with it.
func NewPublisher(conn *amqp091.Connection, exchange, routingKey string, logger *logrus.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &rmqPublisher{
		conn:       conn,
		exchange:   exchange,
		routingKey: routingKey,
		log:        logger,
	}, nil
}

func (p *rmqPublisher) PublishExtractionJob(ctx context.Context, job ExtractionJob) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction job: %w", err)
	}

	err = ch.PublishWithContext(
		ctx, p.exchange, p.routingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish extraction job: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"media_ref_id": job.MediaRefID,
		"routing_key":  p.routingKey,
		"exchange":     p.exchange,
	}).Debug("Published extraction job")
	return nil
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}
