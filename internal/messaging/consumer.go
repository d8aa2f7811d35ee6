package messaging

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HandlerFunc processes one envelope. Returning an error leaves the
// message pending so the reclaim loop redelivers it after the
// visibility timeout and eventually dead-letters it.
type HandlerFunc func(ctx context.Context, env Envelope) error

// StreamConsumerClient is the minimal client surface used by
// StreamConsumer.
type StreamConsumerClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// ConsumerConfig configures a StreamConsumer.
type ConsumerConfig struct {
	Stream           string
	Group            string
	Consumer         string
	DeadLetterStream string
	// VisibilityTimeout is how long a delivered message may stay
	// unacked before the reclaim loop takes it over.
	VisibilityTimeout time.Duration
	// MaxDeliveries dead-letters a message once its delivery count
	// reaches this value.
	MaxDeliveries   int64
	Block           time.Duration
	BatchSize       int64
	ReclaimInterval time.Duration
	Limiter         *RateLimiter
	// RateLimitWait observes time spent waiting on the limiter.
	RateLimitWait func(time.Duration)
	// DeadLettered observes each message moved to the dead-letter
	// stream.
	DeadLettered func(env Envelope)
	Logf         func(format string, args ...any)
}

// StreamConsumer reads a Redis stream through a consumer group,
// providing at-least-once delivery with visibility-timeout redelivery
// and a dead-letter path for poison messages.
type StreamConsumer struct {
	client  StreamConsumerClient
	cfg     ConsumerConfig
	handler HandlerFunc
	logf    func(format string, args ...any)
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStreamConsumer constructs a consumer; Start begins processing.
func NewStreamConsumer(client StreamConsumerClient, cfg ConsumerConfig, handler HandlerFunc) *StreamConsumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = cfg.VisibilityTimeout / 2
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &StreamConsumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logf:    logf,
		done:    make(chan struct{}),
	}
}

// Start creates the consumer group and launches the poll and reclaim
// loops.
func (c *StreamConsumer) Start(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	c.wg.Add(2)
	go c.poll(ctx)
	go c.reclaim(ctx)
	c.logf("stream consumer started (stream=%s group=%s consumer=%s)", c.cfg.Stream, c.cfg.Group, c.cfg.Consumer)
	return nil
}

// Stop ends both loops and waits for in-flight messages.
func (c *StreamConsumer) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *StreamConsumer) poll(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logf("stream %s: read error: %v", c.cfg.Stream, err)
			if err := sleepWithContext(ctx, time.Second); err != nil {
				return
			}
			continue
		}

		for _, stream := range out {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
			}
		}
	}
}

// reclaim redelivers messages whose visibility timeout expired and
// dead-letters those that exhausted their deliveries.
func (c *StreamConsumer) reclaim(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.cfg.Stream,
			Group:  c.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  c.cfg.BatchSize,
			Idle:   c.cfg.VisibilityTimeout,
		}).Result()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				c.logf("stream %s: pending scan error: %v", c.cfg.Stream, err)
			}
			continue
		}

		for _, entry := range pending {
			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   c.cfg.Stream,
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				MinIdle:  c.cfg.VisibilityTimeout,
				Messages: []string{entry.ID},
			}).Result()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
					c.logf("stream %s: claim %s error: %v", c.cfg.Stream, entry.ID, err)
				}
				continue
			}

			for _, msg := range claimed {
				if entry.RetryCount >= c.cfg.MaxDeliveries {
					c.deadLetter(ctx, msg, entry.RetryCount)
					continue
				}
				c.process(ctx, msg)
			}
		}
	}
}

func (c *StreamConsumer) process(ctx context.Context, msg redis.XMessage) {
	if c.cfg.Limiter != nil {
		start := time.Now()
		if err := c.cfg.Limiter.Wait(ctx); err != nil {
			return
		}
		if c.cfg.RateLimitWait != nil {
			c.cfg.RateLimitWait(time.Since(start))
		}
	}

	env := envelopeFromMessage(msg)
	if err := c.handler(ctx, env); err != nil {
		c.logf("stream %s: message %s (type=%s correlation=%s) failed, leaving for redelivery: %v",
			c.cfg.Stream, msg.ID, env.Type, env.CorrelationID, err)
		return
	}

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logf("stream %s: ack %s error: %v", c.cfg.Stream, msg.ID, err)
	}
}

func (c *StreamConsumer) deadLetter(ctx context.Context, msg redis.XMessage, deliveries int64) {
	if c.cfg.DeadLetterStream == "" {
		c.logf("stream %s: dropping poison message %s after %d deliveries (no dead-letter stream)", c.cfg.Stream, msg.ID, deliveries)
	} else {
		values := make(map[string]any, len(msg.Values)+2)
		for k, v := range msg.Values {
			values[k] = v
		}
		values["source_stream"] = c.cfg.Stream
		values["source_id"] = msg.ID
		err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: c.cfg.DeadLetterStream,
			Values: values,
		}).Err()
		if err != nil {
			c.logf("stream %s: dead-letter %s error: %v", c.cfg.Stream, msg.ID, err)
			return
		}
		c.logf("stream %s: message %s dead-lettered after %d deliveries", c.cfg.Stream, msg.ID, deliveries)
	}

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logf("stream %s: ack dead-lettered %s error: %v", c.cfg.Stream, msg.ID, err)
	}
	if c.cfg.DeadLettered != nil {
		c.cfg.DeadLettered(envelopeFromMessage(msg))
	}
}
