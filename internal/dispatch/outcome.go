package dispatch

import (
	"context"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

// OutcomeAdapter publishes the terminal saga outcome events for the
// triggering system to consume. Outcomes expect no reply.
type OutcomeAdapter struct {
	pub    messaging.Publisher
	stream string
}

// NewOutcomeAdapter constructs an adapter targeting the outcome stream.
func NewOutcomeAdapter(pub messaging.Publisher, stream string) *OutcomeAdapter {
	return &OutcomeAdapter{pub: pub, stream: stream}
}

func (a *OutcomeAdapter) PublishCompleted(ctx context.Context, evt saga.PublishingCompleted) error {
	return publish(ctx, a.pub, a.stream, TypePublishingCompleted, evt.CorrelationID, "", evt)
}

func (a *OutcomeAdapter) PublishFailed(ctx context.Context, evt saga.PublishingFailed) error {
	return publish(ctx, a.pub, a.stream, TypePublishingFailed, evt.CorrelationID, "", evt)
}
