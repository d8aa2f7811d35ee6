package dispatch

import (
	"context"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

// AdNetworkAdapter publishes ad network integration commands.
type AdNetworkAdapter struct {
	pub     messaging.Publisher
	stream  string
	replyTo string
}

// NewAdNetworkAdapter constructs an adapter targeting the ad network
// command stream.
func NewAdNetworkAdapter(pub messaging.Publisher, stream, replyTo string) *AdNetworkAdapter {
	return &AdNetworkAdapter{pub: pub, stream: stream, replyTo: replyTo}
}

func (a *AdNetworkAdapter) PublishCampaign(ctx context.Context, cmd saga.AdPublishCommand) error {
	return publish(ctx, a.pub, a.stream, TypeAdNetworkPublish, cmd.CorrelationID, a.replyTo, cmd)
}

func (a *AdNetworkAdapter) DeleteCampaign(ctx context.Context, cmd saga.AdDeleteCommand) error {
	return publish(ctx, a.pub, a.stream, TypeAdNetworkDelete, cmd.CorrelationID, a.replyTo, cmd)
}
