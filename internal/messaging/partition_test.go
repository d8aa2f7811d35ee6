package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestShardForIsStableAndInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("corr-%d", i)
		shard := ShardFor(id, 8)
		if shard < 0 || shard >= 8 {
			t.Fatalf("shard out of range for %s: %d", id, shard)
		}
		if again := ShardFor(id, 8); again != shard {
			t.Fatalf("shard not stable for %s: %d then %d", id, shard, again)
		}
	}
	if ShardFor("anything", 1) != 0 {
		t.Fatalf("single shard must map to 0")
	}
	if ShardFor("anything", 0) != 0 {
		t.Fatalf("degenerate shard count must map to 0")
	}
}

func TestShardPoolSerializesPerCorrelationID(t *testing.T) {
	var mu sync.Mutex
	inFlight := map[string]int{}
	var maxConcurrent int

	pool := NewShardPool(4, 8, func(ctx context.Context, env Envelope) error {
		mu.Lock()
		inFlight[env.CorrelationID]++
		if inFlight[env.CorrelationID] > maxConcurrent {
			maxConcurrent = inFlight[env.CorrelationID]
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight[env.CorrelationID]--
		mu.Unlock()
		return nil
	})
	pool.Start()
	defer pool.Stop()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := pool.Handle(ctx, Envelope{CorrelationID: fmt.Sprintf("corr-%d", i)}); err != nil {
					t.Errorf("Handle: %v", err)
				}
			}(i)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 1 {
		t.Fatalf("two events for one saga ran concurrently")
	}
}

func TestShardPoolReturnsHandlerError(t *testing.T) {
	want := errors.New("handler failed")
	pool := NewShardPool(2, 2, func(ctx context.Context, env Envelope) error {
		return want
	})
	pool.Start()
	defer pool.Stop()

	if err := pool.Handle(context.Background(), Envelope{CorrelationID: "corr-1"}); !errors.Is(err, want) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShardPoolRejectsWorkAfterStop(t *testing.T) {
	pool := NewShardPool(2, 2, func(ctx context.Context, env Envelope) error {
		return nil
	})
	pool.Start()
	pool.Stop()

	if err := pool.Handle(context.Background(), Envelope{CorrelationID: "corr-1"}); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestShardPoolHonorsContextCancellation(t *testing.T) {
	pool := NewShardPool(1, 1, func(ctx context.Context, env Envelope) error {
		return nil
	})
	// Not started: Handle must give up when the caller's context ends
	// instead of blocking on the queue forever.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := pool.Handle(ctx, Envelope{CorrelationID: "corr-1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
}
