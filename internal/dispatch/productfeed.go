package dispatch

import (
	"context"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

// ProductFeedAdapter publishes product catalog commands.
type ProductFeedAdapter struct {
	pub     messaging.Publisher
	stream  string
	replyTo string
}

// NewProductFeedAdapter constructs an adapter targeting the product
// catalog command stream.
func NewProductFeedAdapter(pub messaging.Publisher, stream, replyTo string) *ProductFeedAdapter {
	return &ProductFeedAdapter{pub: pub, stream: stream, replyTo: replyTo}
}

func (a *ProductFeedAdapter) PrepareFeed(ctx context.Context, cmd saga.FeedPrepareCommand) error {
	return publish(ctx, a.pub, a.stream, TypeProductFeedPrepare, cmd.CorrelationID, a.replyTo, cmd)
}

func (a *ProductFeedAdapter) CleanupFeed(ctx context.Context, cmd saga.FeedCleanupCommand) error {
	return publish(ctx, a.pub, a.stream, TypeProductFeedCleanup, cmd.CorrelationID, a.replyTo, cmd)
}
