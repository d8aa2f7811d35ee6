// Package dispatch holds the outbound command adapters. Each adapter is
// a pure transport shim: it serializes one command kind, attaches the
// correlation id, reply destination, and command-type tag, and publishes
// to its domain's command stream. Retry policy and interpretation of
// replies belong to the transport and the coordinator.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"adlift/internal/messaging"
)

// Outbound command-type tags.
const (
	TypeBillingCheck         = "billing.check"
	TypeBillingRelease       = "billing.release"
	TypeProductFeedPrepare   = "productfeed.prepare"
	TypeProductFeedCleanup   = "productfeed.cleanup"
	TypeAdNetworkPublish     = "adnetwork.publish"
	TypeAdNetworkDelete      = "adnetwork.delete"
	TypeCampaignStatusUpdate = "campaign.status.update"
)

// Outcome event-type tags.
const (
	TypePublishingCompleted = "campaign.publishing.completed"
	TypePublishingFailed    = "campaign.publishing.failed"
)

func publish(ctx context.Context, pub messaging.Publisher, stream, commandType, correlationID, replyTo string, command any) error {
	body, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", commandType, err)
	}
	err = pub.Publish(ctx, stream, messaging.Envelope{
		CorrelationID: correlationID,
		Type:          commandType,
		ReplyTo:       replyTo,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s command: %w", commandType, err)
	}
	return nil
}
