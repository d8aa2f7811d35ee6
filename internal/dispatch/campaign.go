package dispatch

import (
	"context"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

// CampaignAdapter publishes campaign management commands.
type CampaignAdapter struct {
	pub     messaging.Publisher
	stream  string
	replyTo string
}

// NewCampaignAdapter constructs an adapter targeting the campaign
// management command stream.
func NewCampaignAdapter(pub messaging.Publisher, stream, replyTo string) *CampaignAdapter {
	return &CampaignAdapter{pub: pub, stream: stream, replyTo: replyTo}
}

func (a *CampaignAdapter) UpdateStatus(ctx context.Context, cmd saga.StatusUpdateCommand) error {
	return publish(ctx, a.pub, a.stream, TypeCampaignStatusUpdate, cmd.CorrelationID, a.replyTo, cmd)
}
