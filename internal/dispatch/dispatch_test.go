package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

type capturingPublisher struct {
	streams   []string
	envelopes []messaging.Envelope
	err       error
}

func (p *capturingPublisher) Publish(ctx context.Context, stream string, env messaging.Envelope) error {
	p.streams = append(p.streams, stream)
	p.envelopes = append(p.envelopes, env)
	return p.err
}

func (p *capturingPublisher) last(t *testing.T) (string, messaging.Envelope) {
	t.Helper()
	if len(p.envelopes) == 0 {
		t.Fatalf("nothing published")
	}
	return p.streams[len(p.streams)-1], p.envelopes[len(p.envelopes)-1]
}

func TestBillingAdapterPublishesCommands(t *testing.T) {
	pub := &capturingPublisher{}
	adapter := NewBillingAdapter(pub, "billing.commands", "campaign.publish.replies")
	ctx := context.Background()

	err := adapter.CheckBudget(ctx, saga.BudgetCheckCommand{
		CorrelationID: "corr-1",
		CampaignID:    "camp-1",
		MerchantID:    "merch-1",
		BudgetCents:   50000,
	})
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}

	stream, env := pub.last(t)
	if stream != "billing.commands" {
		t.Fatalf("unexpected stream: %s", stream)
	}
	if env.Type != TypeBillingCheck || env.CorrelationID != "corr-1" || env.ReplyTo != "campaign.publish.replies" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var cmd saga.BudgetCheckCommand
	if err := json.Unmarshal(env.Body, &cmd); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if cmd.BudgetCents != 50000 || cmd.CampaignID != "camp-1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := adapter.ReleaseBudget(ctx, saga.BudgetReleaseCommand{CorrelationID: "corr-1", CampaignID: "camp-1"}); err != nil {
		t.Fatalf("ReleaseBudget: %v", err)
	}
	if _, env := pub.last(t); env.Type != TypeBillingRelease {
		t.Fatalf("unexpected type: %s", env.Type)
	}
}

func TestProductFeedAdapterPublishesCommands(t *testing.T) {
	pub := &capturingPublisher{}
	adapter := NewProductFeedAdapter(pub, "productfeed.commands", "campaign.publish.replies")
	ctx := context.Background()

	err := adapter.PrepareFeed(ctx, saga.FeedPrepareCommand{
		CorrelationID:      "corr-1",
		CampaignID:         "camp-1",
		ProductCatalogID:   "catalog-1",
		TargetAdNetworkIDs: []string{"google", "meta"},
	})
	if err != nil {
		t.Fatalf("PrepareFeed: %v", err)
	}

	stream, env := pub.last(t)
	if stream != "productfeed.commands" || env.Type != TypeProductFeedPrepare {
		t.Fatalf("unexpected publish: %s %+v", stream, env)
	}
	var cmd saga.FeedPrepareCommand
	if err := json.Unmarshal(env.Body, &cmd); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(cmd.TargetAdNetworkIDs) != 2 || cmd.ProductCatalogID != "catalog-1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if err := adapter.CleanupFeed(ctx, saga.FeedCleanupCommand{CorrelationID: "corr-1"}); err != nil {
		t.Fatalf("CleanupFeed: %v", err)
	}
	if _, env := pub.last(t); env.Type != TypeProductFeedCleanup {
		t.Fatalf("unexpected type: %s", env.Type)
	}
}

func TestAdNetworkAdapterPublishesCommands(t *testing.T) {
	pub := &capturingPublisher{}
	adapter := NewAdNetworkAdapter(pub, "adnetwork.commands", "campaign.publish.replies")
	ctx := context.Background()

	err := adapter.PublishCampaign(ctx, saga.AdPublishCommand{
		CorrelationID: "corr-1",
		AdNetworkID:   "google",
		FeedURL:       "https://feeds.example/google",
		BudgetCents:   50000,
	})
	if err != nil {
		t.Fatalf("PublishCampaign: %v", err)
	}
	_, env := pub.last(t)
	if env.Type != TypeAdNetworkPublish || env.ReplyTo != "campaign.publish.replies" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	err = adapter.DeleteCampaign(ctx, saga.AdDeleteCommand{
		CorrelationID:      "corr-1",
		AdNetworkID:        "google",
		ExternalCampaignID: "g-123",
	})
	if err != nil {
		t.Fatalf("DeleteCampaign: %v", err)
	}
	_, env = pub.last(t)
	if env.Type != TypeAdNetworkDelete {
		t.Fatalf("unexpected type: %s", env.Type)
	}
	var cmd saga.AdDeleteCommand
	if err := json.Unmarshal(env.Body, &cmd); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if cmd.ExternalCampaignID != "g-123" {
		t.Fatalf("external campaign id lost: %+v", cmd)
	}
}

func TestCampaignAdapterPublishesStatusUpdate(t *testing.T) {
	pub := &capturingPublisher{}
	adapter := NewCampaignAdapter(pub, "campaign.commands", "campaign.publish.replies")

	err := adapter.UpdateStatus(context.Background(), saga.StatusUpdateCommand{
		CorrelationID: "corr-1",
		CampaignID:    "camp-1",
		NewStatus:     saga.CampaignPartiallyPublished,
		NetworkResults: []saga.NetworkResult{
			{AdNetworkID: "google", Status: saga.PublishSuccess, ExternalCampaignID: "g-123"},
			{AdNetworkID: "meta", Status: saga.PublishFailure, FailureReason: "policy violation"},
		},
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	stream, env := pub.last(t)
	if stream != "campaign.commands" || env.Type != TypeCampaignStatusUpdate {
		t.Fatalf("unexpected publish: %s %+v", stream, env)
	}
	var cmd saga.StatusUpdateCommand
	if err := json.Unmarshal(env.Body, &cmd); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if cmd.NewStatus != saga.CampaignPartiallyPublished || len(cmd.NetworkResults) != 2 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestOutcomeAdapterPublishesWithoutReplyTo(t *testing.T) {
	pub := &capturingPublisher{}
	adapter := NewOutcomeAdapter(pub, "campaign.publish.outcomes")
	ctx := context.Background()

	err := adapter.PublishCompleted(ctx, saga.PublishingCompleted{
		SagaInstanceID: "saga-1",
		CorrelationID:  "corr-1",
		CampaignID:     "camp-1",
		FinalStatus:    "COMPLETED",
	})
	if err != nil {
		t.Fatalf("PublishCompleted: %v", err)
	}
	stream, env := pub.last(t)
	if stream != "campaign.publish.outcomes" || env.Type != TypePublishingCompleted {
		t.Fatalf("unexpected publish: %s %+v", stream, env)
	}
	if env.CorrelationID != "corr-1" || env.ReplyTo != "" {
		t.Fatalf("outcome envelope misaddressed: %+v", env)
	}

	err = adapter.PublishFailed(ctx, saga.PublishingFailed{
		SagaInstanceID: "saga-1",
		CorrelationID:  "corr-1",
		Reason:         "insufficient funds",
		FailedStep:     "PENDING_BILLING_CHECK",
	})
	if err != nil {
		t.Fatalf("PublishFailed: %v", err)
	}
	_, env = pub.last(t)
	if env.Type != TypePublishingFailed {
		t.Fatalf("unexpected type: %s", env.Type)
	}
	var evt saga.PublishingFailed
	if err := json.Unmarshal(env.Body, &evt); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if evt.FailedStep != "PENDING_BILLING_CHECK" {
		t.Fatalf("failed step lost: %+v", evt)
	}
}

func TestAdapterWrapsPublishErrors(t *testing.T) {
	wantErr := errors.New("broker down")
	pub := &capturingPublisher{err: wantErr}
	adapter := NewBillingAdapter(pub, "billing.commands", "campaign.publish.replies")

	err := adapter.CheckBudget(context.Background(), saga.BudgetCheckCommand{CorrelationID: "corr-1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("publish error not propagated: %v", err)
	}
}
