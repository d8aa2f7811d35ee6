package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// ErrPoolStopped signals the shard pool no longer accepts work.
var ErrPoolStopped = errors.New("shard pool stopped")

// ShardFor assigns a correlation id to one of n shards. Every message
// for one saga lands on the same shard, so one saga's events are
// processed by a single worker while different sagas run concurrently.
func ShardFor(correlationID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationID))
	return int(h.Sum32() % uint32(n))
}

type shardTask struct {
	ctx    context.Context
	env    Envelope
	result chan error
}

// ShardPool serializes envelope handling per correlation id across a
// fixed set of workers.
type ShardPool struct {
	queues  []chan shardTask
	handler HandlerFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewShardPool constructs a pool with the given shard count and queue
// depth per shard.
func NewShardPool(shards, depth int, handler HandlerFunc) *ShardPool {
	if shards < 1 {
		shards = 1
	}
	if depth < 1 {
		depth = 1
	}
	queues := make([]chan shardTask, shards)
	for i := range queues {
		queues[i] = make(chan shardTask, depth)
	}
	return &ShardPool{
		queues:  queues,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start launches one worker per shard.
func (p *ShardPool) Start() {
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.work(queue)
	}
}

// Stop rejects new work and waits for the workers to finish.
func (p *ShardPool) Stop() {
	close(p.done)
	p.wg.Wait()
}

// Handle routes the envelope to its shard worker and waits for the
// result, so transport acknowledgment still follows actual processing.
func (p *ShardPool) Handle(ctx context.Context, env Envelope) error {
	task := shardTask{ctx: ctx, env: env, result: make(chan error, 1)}
	queue := p.queues[ShardFor(env.CorrelationID, len(p.queues))]

	select {
	case <-p.done:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	case queue <- task:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-task.result:
		return err
	}
}

func (p *ShardPool) work(queue chan shardTask) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task := <-queue:
			task.result <- p.handler(task.ctx, task.env)
		}
	}
}
