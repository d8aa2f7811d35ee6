package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adlift/cmd/worker/config"
	"adlift/internal/dispatch"
	"adlift/internal/events"
	"adlift/internal/journal"
	"adlift/internal/messaging"
	"adlift/internal/observability"
	"adlift/internal/saga"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}

func run(ctx context.Context) error {
	streams, err := config.LoadStreams()
	if err != nil {
		return err
	}
	rel, err := config.LoadReliability()
	if err != nil {
		return err
	}

	client, cleanupRedis, err := buildRedisClient(ctx)
	if err != nil {
		return err
	}
	defer cleanupRedis()

	store, cleanupStore, err := buildInstanceStore(ctx)
	if err != nil {
		return err
	}
	defer cleanupStore()

	var recorder saga.TransitionRecorder
	if jcfg := config.LoadJournal(); jcfg.Path != "" {
		fj, err := journal.NewFileJournal(jcfg.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := fj.Close(); err != nil {
				log.Printf("close journal: %v", err)
			}
		}()
		recorder = fj
	}

	metrics := observability.NewMetrics()

	var publishLimiter *messaging.RateLimiter
	if rel.RateLimitInterval > 0 && rel.RateLimitBurst > 0 {
		publishLimiter = messaging.NewRateLimiter(rel.RateLimitInterval, rel.RateLimitBurst)
	}
	publisher := messaging.NewReliablePublisher(
		messaging.NewStreamPublisher(client, streams.StreamMaxLen),
		publishLimiter,
		messaging.NewCircuitBreaker(messaging.CircuitBreakerConfig{
			MaxFailures:  rel.BreakerMaxFailures,
			ResetTimeout: rel.BreakerResetTimeout,
		}),
		messaging.RetryPolicy{
			MaxAttempts: rel.RetryMaxAttempts,
			BaseDelay:   rel.RetryBaseDelay,
			MaxDelay:    rel.RetryMaxDelay,
		},
	)

	coordinator := saga.NewCoordinator(saga.CoordinatorConfig{
		Store:        store,
		Billing:      dispatch.NewBillingAdapter(publisher, streams.BillingStream, streams.ReplyStream),
		ProductFeeds: dispatch.NewProductFeedAdapter(publisher, streams.ProductFeedStream, streams.ReplyStream),
		AdNetworks:   dispatch.NewAdNetworkAdapter(publisher, streams.AdNetworkStream, streams.ReplyStream),
		Campaigns:    dispatch.NewCampaignAdapter(publisher, streams.CampaignStream, streams.ReplyStream),
		Outcomes:     dispatch.NewOutcomeAdapter(publisher, streams.OutcomeStream),
		Journal:      recorder,
		Observer:     metrics,
	})

	router := events.NewRouter(coordinator, spanObserver{metrics: metrics}, log.Printf)

	pool := messaging.NewShardPool(streams.Shards, streams.ShardQueueDepth, router.Route)
	pool.Start()
	defer pool.Stop()

	var consumeLimiter *messaging.RateLimiter
	if rel.ConsumeInterval > 0 && rel.ConsumeBurst > 0 {
		consumeLimiter = messaging.NewRateLimiter(rel.ConsumeInterval, rel.ConsumeBurst)
	}

	consumerCfg := func(stream string) messaging.ConsumerConfig {
		return messaging.ConsumerConfig{
			Stream:            stream,
			Group:             streams.Group,
			Consumer:          streams.Consumer,
			DeadLetterStream:  streams.DeadLetterStream,
			VisibilityTimeout: streams.VisibilityTimeout,
			MaxDeliveries:     streams.MaxDeliveries,
			Block:             streams.Block,
			BatchSize:         streams.BatchSize,
			Limiter:           consumeLimiter,
			RateLimitWait:     metrics.AddRateLimitWait,
			DeadLettered:      func(messaging.Envelope) { metrics.MarkDeadLettered() },
		}
	}

	requests := messaging.NewStreamConsumer(client, consumerCfg(streams.RequestStream), pool.Handle)
	if err := requests.Start(ctx); err != nil {
		return err
	}
	defer requests.Stop()

	replies := messaging.NewStreamConsumer(client, consumerCfg(streams.ReplyStream), pool.Handle)
	if err := replies.Start(ctx); err != nil {
		return err
	}
	defer replies.Stop()

	obsSrv := startObservabilityServer(metrics)

	log.Printf("campaign publishing worker running (requests=%s replies=%s group=%s)",
		streams.RequestStream, streams.ReplyStream, streams.Group)

	<-ctx.Done()

	metrics.MarkShutdown(metrics.Snapshot().InFlight)
	if obsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// spanObserver bridges Metrics to the router's observer interface.
type spanObserver struct {
	metrics *observability.Metrics
}

func (o spanObserver) Start(eventType string) events.Span {
	return o.metrics.Start(eventType)
}

func startObservabilityServer(metrics *observability.Metrics) *http.Server {
	cfg := config.LoadObservability()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv
}
