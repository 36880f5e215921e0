// Package metrics emits the worker's operational counters to Redis.
// Emission is fire-and-forget; a nil sink drops everything, so callers
// never guard their instrumentation.
package metrics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL keeps day buckets around long enough for dashboards to read
// them before Redis reclaims the space.
const keyTTL = 7 * 24 * time.Hour

// Counter names.
const (
	MessagesSent           = "messages_sent"
	MessagesFailed         = "messages_failed"
	ThrottleEvents         = "throttle_events"
	AttachmentDelayApplied = "attachment_delay_applied"
)

// Sink writes day-bucketed counters and gauges to Redis.
type Sink struct {
	client *redis.Client
	now    func() time.Time
}

// NewSink creates a sink on the given Redis URL. An empty URL yields a
// nil sink, which silently discards all emissions.
func NewSink(redisURL string) (*Sink, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics redis url: %w", err)
	}
	return &Sink{client: redis.NewClient(opts), now: time.Now}, nil
}

// NewSinkWithClient creates a sink on an existing client, for tests.
func NewSinkWithClient(client *redis.Client) *Sink {
	return &Sink{client: client, now: time.Now}
}

// Incr adds n to today's bucket of the named counter.
func (s *Sink) Incr(ctx context.Context, name string, n int64) {
	if s == nil || n == 0 {
		return
	}

	key := s.dayKey(name)
	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Metrics] Dropping %s increment: %v", name, err)
	}
}

// Gauge records the latest value of a named measurement.
func (s *Sink) Gauge(ctx context.Context, name string, value float64) {
	if s == nil {
		return
	}

	if err := s.client.Set(ctx, s.dayKey(name), value, keyTTL).Err(); err != nil {
		log.Printf("[Metrics] Dropping %s gauge: %v", name, err)
	}
}

// BatchDuration records how long one worker invocation spent on its
// batch.
func (s *Sink) BatchDuration(ctx context.Context, d time.Duration) {
	s.Gauge(ctx, "batch_duration_seconds", d.Seconds())
}

func (s *Sink) dayKey(name string) string {
	return fmt.Sprintf("metrics:%s:%s", name, s.now().UTC().Format("2006-01-02"))
}

// Close releases the Redis connection.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
