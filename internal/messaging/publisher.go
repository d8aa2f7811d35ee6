package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher appends an envelope to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, env Envelope) error
}

// StreamAppender is the minimal client surface used by StreamPublisher.
type StreamAppender interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher publishes envelopes to Redis streams.
type StreamPublisher struct {
	client StreamAppender
	maxLen int64
}

// NewStreamPublisher constructs a publisher. A positive maxLen caps each
// stream with an approximate trim.
func NewStreamPublisher(client StreamAppender, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, maxLen: maxLen}
}

// Publish appends the envelope, assigning a message id and publish time
// when absent.
func (p *StreamPublisher) Publish(ctx context.Context, stream string, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.PublishedAt.IsZero() {
		env.PublishedAt = time.Now().UTC()
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: env.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

// ReliablePublisher wraps a Publisher with rate limiting, a circuit
// breaker, and retries. Nil components are skipped.
type ReliablePublisher struct {
	base    Publisher
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliablePublisher constructs a reliability-wrapped publisher.
func NewReliablePublisher(base Publisher, limiter *RateLimiter, breaker *CircuitBreaker, retry RetryPolicy) *ReliablePublisher {
	return &ReliablePublisher{
		base:    base,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
	}
}

func (p *ReliablePublisher) Publish(ctx context.Context, stream string, env Envelope) error {
	attempt := func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		publish := func() error {
			return p.base.Publish(ctx, stream, env)
		}
		if p.breaker != nil {
			return p.breaker.Execute(publish)
		}
		return publish()
	}
	return p.retry.Do(ctx, attempt)
}
