package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultJobTimeout bounds a job that does not set its own timeout
const DefaultJobTimeout = 30 * time.Second

// JobHandler grades one job. The returned result needs only Report and,
// optionally, AssessmentID; the consumer fills in the rest.
type JobHandler func(ctx context.Context, job *AssessJob) (*AssessResult, error)

// JobRecorder counts processed jobs by status
type JobRecorder interface {
	RecordJob(status string)
}

// Consumer consumes assessment jobs from the queue
type Consumer struct {
	conn       *Connection
	handler    JobHandler
	producer   *Producer
	recorder   JobRecorder
	workers    int
	prefetch   int
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int // Number of concurrent workers
	Prefetch int // Prefetch count per worker
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  3,
		Prefetch: 1,
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		handler:  handler,
		producer: NewProducer(conn),
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
	}
}

// SetRecorder enables job metrics
func (c *Consumer) SetRecorder(r JobRecorder) {
	c.recorder = r
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()
	if ch == nil {
		return errors.New("queue consumer: not connected")
	}

	if err := ch.Qos(c.prefetch*c.workers, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		AssessQueueName,
		"",    // consumer tag (auto-generated)
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("starting assess queue consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := range c.workers {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

// worker processes messages from the queue
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	slog.Debug("worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				slog.Info("message channel closed", "worker_id", id)
				return
			}

			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage handles a single delivery
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		slog.Error("rejecting malformed job", "worker_id", workerID, "error", err)
		c.record(StatusFailed)
		_ = msg.Reject(false)
		return
	}

	slog.Info("processing assess job",
		"worker_id", workerID,
		"job_id", job.ID,
		"exercise_id", job.ExerciseID,
	)

	result := c.run(ctx, job)
	c.record(result.Status)

	if err := c.producer.PublishResult(ctx, result); err != nil {
		slog.Error("failed to publish result",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}
}

// run invokes the handler under the job's timeout
func (c *Consumer) run(ctx context.Context, job *AssessJob) *AssessResult {
	start := time.Now()

	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.handler(jobCtx, job)
	if err == nil && jobCtx.Err() != nil {
		err = jobCtx.Err()
	}
	return buildResult(job, result, err, time.Since(start))
}

func (c *Consumer) record(status string) {
	if c.recorder != nil {
		c.recorder.RecordJob(status)
	}
}

// decodeJob parses and validates a job body
func decodeJob(body []byte) (*AssessJob, error) {
	var job AssessJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// buildResult turns a handler outcome into the published result
func buildResult(job *AssessJob, result *AssessResult, err error, duration time.Duration) *AssessResult {
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "assessment timed out"
		}
		slog.Error("job processing failed", "job_id", job.ID, "error", err, "duration", duration)
		return &AssessResult{
			JobID:       job.ID,
			Status:      StatusFailed,
			Error:       msg,
			Duration:    duration,
			CompletedAt: time.Now().UTC(),
		}
	}

	if result == nil {
		result = &AssessResult{}
	}
	result.JobID = job.ID
	result.Duration = duration
	result.CompletedAt = time.Now().UTC()
	if result.Status == "" {
		result.Status = StatusCompleted
	}
	return result
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}

// ResultConsumer consumes assessment results and hands them to the
// subscriber waiting on each job.
type ResultConsumer struct {
	conn       *Connection
	handlers   map[string]ResultHandler
	handlersMu sync.RWMutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ResultHandler handles the result of a specific job
type ResultHandler func(result *AssessResult)

// NewResultConsumer creates a result consumer
func NewResultConsumer(conn *Connection) *ResultConsumer {
	return &ResultConsumer{
		conn:     conn,
		handlers: make(map[string]ResultHandler),
	}
}

// Subscribe registers a handler for results of a specific job
func (rc *ResultConsumer) Subscribe(jobID string, handler ResultHandler) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	rc.handlers[jobID] = handler
}

// Unsubscribe removes a handler
func (rc *ResultConsumer) Unsubscribe(jobID string) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	delete(rc.handlers, jobID)
}

// Start begins consuming results
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	ch := rc.conn.Channel()
	if ch == nil {
		return errors.New("result consumer: not connected")
	}

	msgs, err := ch.Consume(
		ResultQueueName,
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.wg.Add(1)
	go rc.consume(ctx, msgs)

	return nil
}

func (rc *ResultConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer rc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			rc.dispatch(msg.Body)
		}
	}
}

// dispatch routes one result body to its subscriber, if any
func (rc *ResultConsumer) dispatch(body []byte) bool {
	var result AssessResult
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Error("failed to unmarshal result", "error", err)
		return false
	}

	rc.handlersMu.RLock()
	handler, ok := rc.handlers[result.JobID.String()]
	rc.handlersMu.RUnlock()

	if ok {
		handler(&result)
	}
	return ok
}

// Stop stops the result consumer
func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}
