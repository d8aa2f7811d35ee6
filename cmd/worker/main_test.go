package main

import (
	"context"
	"testing"

	"adlift/internal/saga"
)

func TestBuildRedisClientRequiresURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")

	client, cleanup, err := buildRedisClient(context.Background())
	if err == nil {
		if cleanup != nil {
			cleanup()
		}
		t.Fatalf("expected error when REDIS_URL is empty, got client=%v", client)
	}
}

func TestBuildInstanceStoreFallsBackToMemory(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")

	store, cleanup, err := buildInstanceStore(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(cleanup)

	if _, ok := store.(*saga.InMemoryInstanceStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}
}
