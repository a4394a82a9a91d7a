package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dd0wney/malaphor/pkg/logging"
)

const (
	// DefaultMaxRetries is how many times a failing job is retried before it
	// is dead-lettered.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the TTL of the retry queue.
	DefaultRetryDelay = 10 * time.Second

	retriesHeader = "x-malaphor-retries"
)

// Handler processes one job. Returning an error marked Permanent
// dead-letters the job; any other error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// JobRecorder counts job outcomes. *metrics.Registry implements it.
type JobRecorder interface {
	RecordJob(status string)
}

// Options configures a Client.
type Options struct {
	URL        string
	Queue      string
	Prefetch   int
	MaxRetries int
	RetryDelay time.Duration
	Logger     logging.Logger
	Metrics    JobRecorder
}

// Client declares the job, retry, and dead-letter queues and both publishes
// and consumes jobs.
type Client struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	opts   Options
	logger logging.Logger
}

func (o Options) retryQueue() string {
	return o.Queue + "_retry"
}

func (o Options) deadLetterQueue() string {
	return o.Queue + "_dlq"
}

// Dial connects to the broker and declares the queues.
func Dial(opts Options) (*Client, error) {
	if opts.URL == "" || opts.Queue == "" {
		return nil, errors.New("queue: url and queue name are required")
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Client{
		conn:   conn,
		ch:     ch,
		opts:   opts,
		logger: opts.Logger.With(logging.Component("queue"), logging.String("queue", opts.Queue)),
	}
	if err := c.setup(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) setup() error {
	_, err := c.ch.QueueDeclare(
		c.opts.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": c.opts.deadLetterQueue(),
		},
	)
	if err != nil {
		return fmt.Errorf("QueueDeclare %s failed: %w", c.opts.Queue, err)
	}

	_, err = c.ch.QueueDeclare(
		c.opts.retryQueue(),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             int32(c.opts.RetryDelay.Milliseconds()),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": c.opts.Queue,
		},
	)
	if err != nil {
		return fmt.Errorf("QueueDeclare %s failed: %w", c.opts.retryQueue(), err)
	}

	_, err = c.ch.QueueDeclare(
		c.opts.deadLetterQueue(),
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("QueueDeclare %s failed: %w", c.opts.deadLetterQueue(), err)
	}

	if err := c.ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// Enqueue publishes job as a persistent message.
func (c *Client) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return c.publish(ctx, c.opts.Queue, body, nil)
}

func (c *Client) publish(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	return c.ch.PublishWithContext(ctx,
		"",
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Consume runs handler for each delivery until ctx is done or the broker
// closes the channel. Jobs are handled one at a time.
func (c *Client) Consume(ctx context.Context, handler Handler) error {
	msgs, err := c.ch.Consume(
		c.opts.Queue,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("listening for jobs")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping consumer")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("queue: delivery channel closed")
			}
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Client) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	retries := retryCount(msg.Headers)
	job, err := Decode(msg.Body)
	log := c.logger.With(logging.String("job_id", job.ID), logging.Int("attempt", retries+1))
	if err == nil {
		timer := logging.StartTimer(log, "job processed")
		err = handler(ctx, job)
		if err == nil {
			timer.End()
		}
	}

	d := decide(err, retries, c.opts.MaxRetries)
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordJob(d.String())
	}
	switch d {
	case ack:
		if err := msg.Ack(false); err != nil {
			log.Error("failed to ack job", logging.Error(err))
		}
	case retry:
		log.Warn("job failed, scheduling retry", logging.Error(err))
		headers := amqp.Table{retriesHeader: int32(retries + 1)}
		if perr := c.publish(ctx, c.opts.retryQueue(), msg.Body, headers); perr != nil {
			log.Error("failed to schedule retry", logging.Error(perr))
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
	case deadLetter:
		log.Error("job rejected", logging.Error(err))
		msg.Nack(false, false)
	}
}

type disposition int

const (
	ack disposition = iota
	retry
	deadLetter
)

func (d disposition) String() string {
	switch d {
	case ack:
		return "ok"
	case retry:
		return "retried"
	default:
		return "dead_lettered"
	}
}

func decide(err error, retries, maxRetries int) disposition {
	switch {
	case err == nil:
		return ack
	case IsPermanent(err), retries >= maxRetries:
		return deadLetter
	default:
		return retry
	}
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (c *Client) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
