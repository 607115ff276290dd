package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPConfig configures the RabbitMQ backed queue.
type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

type envelope struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempt  int             `json:"attempt"`
	Enqueued time.Time       `json:"enqueued"`
}

func encodeJob(job Job) ([]byte, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	return json.Marshal(envelope{
		ID:       job.ID,
		Type:     job.Type,
		Payload:  payload,
		Attempt:  job.Attempt,
		Enqueued: job.Enqueued,
	})
}

func decodeJob(body []byte) (Job, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return Job{
		ID:       env.ID,
		Type:     env.Type,
		Payload:  env.Payload,
		Attempt:  env.Attempt,
		Enqueued: env.Enqueued,
	}, nil
}

// AMQPQueue publishes jobs to a durable RabbitMQ queue and consumes them with
// manual acknowledgements. Failed jobs wait out their backoff in a retry queue
// whose expired messages are dead-lettered back to the exchange, until
// MaxRetries is reached.
type AMQPQueue struct {
	cfg     AMQPConfig
	handler Handler
	logger  *zap.Logger

	conn *amqp.Connection
	pub  *amqp.Channel
	sub  *amqp.Channel

	pubMu  sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// DialAMQP connects to the broker and declares the exchange and queue.
func DialAMQP(handler Handler, cfg AMQPConfig) (*AMQPQueue, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	q := &AMQPQueue{cfg: cfg, handler: handler, logger: cfg.Logger, conn: conn}

	if q.pub, err = conn.Channel(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if q.sub, err = conn.Channel(); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := q.declare(); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) declare() error {
	if err := q.pub.ExchangeDeclare(q.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", q.cfg.Exchange, err)
	}
	if _, err := q.pub.QueueDeclare(q.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.cfg.Queue, err)
	}
	if err := q.pub.QueueBind(q.cfg.Queue, q.routingKey(), q.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.cfg.Queue, err)
	}
	if _, err := q.pub.QueueDeclare(retryQueueName(q.cfg.Queue), true, false, false, false, retryQueueArgs(q.cfg)); err != nil {
		return fmt.Errorf("declare retry queue %s: %w", retryQueueName(q.cfg.Queue), err)
	}
	return nil
}

func (q *AMQPQueue) routingKey() string {
	return q.cfg.Queue + ".#"
}

func retryQueueName(queue string) string {
	return queue + ".retry"
}

// retryQueueArgs routes expired retries back through the exchange. The
// dead-letter routing key falls under the main queue's binding.
func retryQueueArgs(cfg AMQPConfig) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    cfg.Exchange,
		"x-dead-letter-routing-key": retryQueueName(cfg.Queue),
	}
}

// retryPublishing holds a job in the retry queue for delay before it expires.
func retryPublishing(job Job, body []byte, delay time.Duration) amqp.Publishing {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Expiration:   strconv.FormatInt(ms, 10),
	}
}

// Enqueue publishes a job using its type as routing key suffix.
func (q *AMQPQueue) Enqueue(job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(context.Background(), q.cfg.Exchange, q.cfg.Queue+"."+job.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Start launches the consumers. Errors from the broker are logged.
func (q *AMQPQueue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	if err := q.sub.Qos(q.cfg.Workers, 0, false); err != nil {
		q.logger.Warn("amqp qos failed", zap.Error(err))
	}
	deliveries, err := q.sub.Consume(q.cfg.Queue, "portal-worker", false, false, false, false, nil)
	if err != nil {
		q.logger.Error("amqp consume failed", zap.String("queue", q.cfg.Queue), zap.Error(err))
		return
	}
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.consume(deliveries)
	}
	q.logger.Info("amqp queue started", zap.String("queue", q.cfg.Queue), zap.Int("workers", q.cfg.Workers))
}

func (q *AMQPQueue) consume(deliveries <-chan amqp.Delivery) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.process(d)
		}
	}
}

func (q *AMQPQueue) process(d amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("amqp handler panic", zap.Any("panic", r))
			_ = d.Nack(false, false)
		}
	}()

	job, err := decodeJob(d.Body)
	if err != nil {
		q.logger.Error("drop malformed job", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := q.handler(q.ctx, job); err != nil {
		if !q.retry(job, err) {
			_ = d.Nack(false, true)
			return
		}
	}
	if err := d.Ack(false); err != nil {
		q.logger.Warn("amqp ack failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// retry parks a failed job in the retry queue for its backoff delay. It
// reports false when the delivery should go back to the broker untouched.
func (q *AMQPQueue) retry(job Job, cause error) bool {
	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		q.logger.Error("job exceeded retries", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(cause))
		return true
	}
	delay := RetryDelay(q.cfg.RetryDelay, job.Attempt)
	q.logger.Warn("job failed, retrying",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)

	body, err := encodeJob(job)
	if err != nil {
		q.logger.Error("failed to encode retry", zap.String("job_id", job.ID), zap.Error(err))
		return true
	}
	q.pubMu.Lock()
	err = q.pub.PublishWithContext(q.ctx, "", retryQueueName(q.cfg.Queue), false, false, retryPublishing(job, body, delay))
	q.pubMu.Unlock()
	if err != nil {
		q.logger.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
		return false
	}
	return true
}

// Stop cancels consumers, waits for in-flight jobs and closes the connection.
func (q *AMQPQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	if err := q.Close(); err != nil {
		q.logger.Warn("amqp close failed", zap.Error(err))
	}
}

// Close releases channels and the connection.
func (q *AMQPQueue) Close() error {
	var result *multierror.Error
	if q.sub != nil {
		if err := q.sub.Close(); err != nil && err != amqp.ErrClosed {
			result = multierror.Append(result, fmt.Errorf("close consume channel: %w", err))
		}
	}
	if q.pub != nil {
		if err := q.pub.Close(); err != nil && err != amqp.ErrClosed {
			result = multierror.Append(result, fmt.Errorf("close publish channel: %w", err))
		}
	}
	if q.conn != nil && !q.conn.IsClosed() {
		if err := q.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
		}
	}
	return result.ErrorOrNil()
}
