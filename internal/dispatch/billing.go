package dispatch

import (
	"context"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

// BillingAdapter publishes billing commands.
type BillingAdapter struct {
	pub     messaging.Publisher
	stream  string
	replyTo string
}

// NewBillingAdapter constructs an adapter targeting the billing command
// stream, with replies addressed to replyTo.
func NewBillingAdapter(pub messaging.Publisher, stream, replyTo string) *BillingAdapter {
	return &BillingAdapter{pub: pub, stream: stream, replyTo: replyTo}
}

func (a *BillingAdapter) CheckBudget(ctx context.Context, cmd saga.BudgetCheckCommand) error {
	return publish(ctx, a.pub, a.stream, TypeBillingCheck, cmd.CorrelationID, a.replyTo, cmd)
}

func (a *BillingAdapter) ReleaseBudget(ctx context.Context, cmd saga.BudgetReleaseCommand) error {
	return publish(ctx, a.pub, a.stream, TypeBillingRelease, cmd.CorrelationID, a.replyTo, cmd)
}
