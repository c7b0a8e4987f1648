package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes a single delivery. Returning an error dead-letters
// the message; the delayed-retry queue re-delivers it after the TTL.
type Handler func(ctx context.Context, delivery amqp091.Delivery) error

// Consumer reads extraction jobs from a durable queue with a bounded
// worker pool.
type Consumer interface {
	RegisterHandler(routingKey string, handler Handler)
	Start(queueName string) error
	Close() error
}

// ConsumerOptions tunes the worker pool and retry queue.
type ConsumerOptions struct {
	Workers        int
	Prefetch       int
	HandlerTimeout time.Duration
	RetryTTL       time.Duration
}

type rmqConsumer struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	opts     ConsumerOptions
	log      *logrus.Logger
	handlers map[string]Handler
	msgChan  chan amqp091.Delivery
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewConsumer declares the topic exchange and prepares a consumer on
// the given connection. The connection is owned by the consumer.
func NewConsumer(conn *amqp091.Connection, exchange string, opts ConsumerOptions, logger *logrus.Logger) (Consumer, error) {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = opts.Workers * 2
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 2 * time.Minute
	}
	if opts.RetryTTL <= 0 {
		opts.RetryTTL = 30 * time.Second
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &rmqConsumer{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		opts:     opts,
		log:      logger,
		handlers: make(map[string]Handler),
		msgChan:  make(chan amqp091.Delivery, opts.Prefetch),
		done:     make(chan struct{}),
	}, nil
}

// RegisterHandler binds a routing key to a handler. Must be called
// before Start.
func (c *rmqConsumer) RegisterHandler(routingKey string, handler Handler) {
	c.handlers[routingKey] = handler
}

func (c *rmqConsumer) Start(queueName string) error {
	var startErr error
	c.once.Do(func() {
		if err := c.setupQueues(queueName); err != nil {
			startErr = err
			return
		}
		for i := 0; i < c.opts.Workers; i++ {
			c.wg.Add(1)
			go c.workerLoop()
		}
		c.log.WithFields(logrus.Fields{
			"queue":   queueName,
			"workers": c.opts.Workers,
		}).Info("Queue consumer started")
	})
	return startErr
}

// setupQueues declares the work queue plus a delayed-retry queue.
// Failed deliveries go to the dead exchange, sit in the retry queue
// for RetryTTL, then dead-letter back onto the main exchange.
func (c *rmqConsumer) setupQueues(queueName string) error {
	if err := c.ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deadExchange := c.exchange + ".dead"
	if err := c.ch.ExchangeDeclare(deadExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead exchange: %w", err)
	}

	retryQueue, err := c.ch.QueueDeclare(queueName+".retry", true, false, false, false, amqp091.Table{
		"x-message-ttl":          int32(c.opts.RetryTTL.Milliseconds()),
		"x-dead-letter-exchange": c.exchange,
	})
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}
	if err := c.ch.QueueBind(retryQueue.Name, "#", deadExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind retry queue: %w", err)
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp091.Table{
		"x-dead-letter-exchange": deadExchange,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	for key := range c.handlers {
		if err := c.ch.QueueBind(q.Name, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue for key %s: %w", key, err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case <-c.done:
				close(c.msgChan)
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c.msgChan <- msg
			}
		}
	}()
	return nil
}

func (c *rmqConsumer) workerLoop() {
	defer c.wg.Done()
	for msg := range c.msgChan {
		handler, ok := c.handlers[msg.RoutingKey]
		if !ok {
			c.log.WithField("routing_key", msg.RoutingKey).Warn("No handler for routing key")
			_ = msg.Nack(false, false)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandlerTimeout)
		err := handler(ctx, msg)
		cancel()

		if err != nil {
			c.log.WithFields(logrus.Fields{
				"routing_key": msg.RoutingKey,
				"message_id":  msg.MessageId,
			}).WithError(err).Error("Handler failed, dead-lettering delivery")
			_ = msg.Nack(false, false)
			continue
		}
		_ = msg.Ack(false)
	}
}

func (c *rmqConsumer) Close() error {
	close(c.done)
	c.wg.Wait()
	_ = c.ch.Close()
	return c.conn.Close()
}
