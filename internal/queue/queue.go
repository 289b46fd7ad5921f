// Package queue carries assessment jobs over RabbitMQ so that heavy batches
// can be graded by a pool of workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names
const (
	AssessQueueName = "assay.assess"
	ResultQueueName = "assay.results"
)

// Result statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AssessJob asks a worker to grade a submission. Exactly one of ExerciseID
// and Rules is expected.
type AssessJob struct {
	ID         uuid.UUID     `json:"id"`
	ExerciseID string        `json:"exercise_id,omitempty"`
	Rules      []domain.Rule `json:"rules,omitempty"`
	Submission string        `json:"submission"`
	Language   string        `json:"language,omitempty"`
	Timeout    int           `json:"timeout,omitempty"` // seconds
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate reports malformed jobs that no worker can grade
func (j *AssessJob) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job id missing", domain.ErrInvalidInput)
	}
	if j.ExerciseID == "" && len(j.Rules) == 0 {
		return fmt.Errorf("%w: job %s has neither exercise_id nor rules", domain.ErrInvalidInput, j.ID)
	}
	return nil
}

// AssessResult is published once per processed job
type AssessResult struct {
	JobID        uuid.UUID                `json:"job_id"`
	AssessmentID string                   `json:"assessment_id,omitempty"`
	Status       string                   `json:"status"` // completed, failed
	Report       *domain.AssessmentReport `json:"report,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Duration     time.Duration            `json:"duration"`
	CompletedAt  time.Time                `json:"completed_at"`
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
}

// dialRetry covers the broker still starting up
var dialRetry = retry.Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	Multiplier:    2.0,
	BackoffPolicy: retry.BackoffExponential,
	Jitter:        true,
}

// reconnectRetry is used after an established connection drops
var reconnectRetry = retry.Config{
	MaxAttempts:   10,
	InitialDelay:  time.Second,
	MaxDelay:      30 * time.Second,
	Multiplier:    2.0,
	BackoffPolicy: retry.BackoffExponential,
	Jitter:        true,
}

// NewConnection dials RabbitMQ, retrying transient failures, and declares
// the assay queues.
func NewConnection(ctx context.Context, url string) (*Connection, error) {
	c := &Connection{
		url: url,
	}

	if err := c.dial(ctx, dialRetry); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) dial(ctx context.Context, cfg retry.Config) error {
	r := retry.New[struct{}](cfg)
	_, err := r.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.connect()
	})
	return err
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect(c.conn)

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the job and result queues
func (c *Connection) declareQueues() error {
	queues := []struct {
		name string
		ttl  int32
	}{
		{AssessQueueName, 300000}, // 5 minutes
		{ResultQueueName, 60000},  // 1 minute
	}

	for _, q := range queues {
		_, err := c.channel.QueueDeclare(
			q.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-message-ttl": q.ttl},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// handleReconnect waits for conn to close and redials with backoff
func (c *Connection) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return // normal close
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnects++
	attempt := c.reconnects
	c.mu.Unlock()

	slog.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", attempt,
	)

	if err := c.dial(context.Background(), reconnectRetry); err != nil {
		slog.Error("failed to reconnect to RabbitMQ", "error", err, "attempts", reconnectRetry.MaxAttempts)
		return
	}
	slog.Info("reconnected to RabbitMQ")
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a persistent JSON message to a queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("publish to %s: not connected", queue)
	}

	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// sanitizeURL drops credentials from a broker URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	u.User = nil
	return u.String()
}
