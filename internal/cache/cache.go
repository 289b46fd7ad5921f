// Package cache keeps recently computed assessment reports in Redis so that a
// resubmission of identical code against identical rules skips the engine.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/assay/internal/domain"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every report key
const KeyPrefix = "assay:report:"

// ReportCache stores assessment reports as JSON values
type ReportCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker circuitbreaker.CircuitBreaker[[]byte]
}

// Options configure a Redis connection
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, opts Options) (*ReportCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.TTL), nil
}

// NewWithClient wraps an existing client. A nil client yields a cache that
// always misses.
func NewWithClient(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl, breaker: newBreaker()}
}

// newBreaker stops calling Redis for a while after repeated failures so a
// dead cache costs each assessment nothing.
func newBreaker() circuitbreaker.CircuitBreaker[[]byte] {
	return circuitbreaker.New[[]byte](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			slog.Warn("report cache circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})
}

// Key derives the cache key for a rule set and a submission. Rules are
// encoded in declaration order, so reordering rules changes the key.
func Key(rules []domain.Rule, submission domain.Submission) (string, error) {
	encoded, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("encode rules: %w", err)
	}

	h := sha256.New()
	h.Write(encoded)
	h.Write([]byte{0})
	h.Write([]byte(submission.Normalized))
	return KeyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached report for key or domain.ErrCacheMiss
func (c *ReportCache) Get(ctx context.Context, key string) (*domain.AssessmentReport, error) {
	if c == nil || c.client == nil {
		return nil, domain.ErrCacheMiss
	}

	raw, err := c.breaker.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		b, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if raw == nil {
		return nil, domain.ErrCacheMiss
	}

	var report domain.AssessmentReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return &report, nil
}

// Set stores a report under key for the configured TTL
func (c *ReportCache) Set(ctx context.Context, key string, report *domain.AssessmentReport) error {
	if c == nil || c.client == nil {
		return nil
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	_, err = c.breaker.Execute(ctx, func(ctx context.Context) ([]byte, error) {
		return nil, c.client.Set(ctx, key, payload, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Purge removes every cached report
func (c *ReportCache) Purge(ctx context.Context) (int, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}

	removed := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("redis delete %s: %w", key, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

// Enabled reports whether a client is attached
func (c *ReportCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Close releases the underlying Redis connection if present
func (c *ReportCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
