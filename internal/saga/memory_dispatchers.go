package saga

import (
	"context"
	"sync"
)

// In-memory dispatchers record dispatched commands for inspection. They
// back local runs without a broker and the coordinator tests.

// NewInMemoryBillingDispatcher constructs an in-memory billing dispatcher.
func NewInMemoryBillingDispatcher() *InMemoryBillingDispatcher {
	return &InMemoryBillingDispatcher{}
}

// InMemoryBillingDispatcher records billing commands in memory.
type InMemoryBillingDispatcher struct {
	mu       sync.Mutex
	checks   []BudgetCheckCommand
	releases []BudgetReleaseCommand
}

func (d *InMemoryBillingDispatcher) CheckBudget(ctx context.Context, cmd BudgetCheckCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks = append(d.checks, cmd)
	return nil
}

func (d *InMemoryBillingDispatcher) ReleaseBudget(ctx context.Context, cmd BudgetReleaseCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases = append(d.releases, cmd)
	return nil
}

// Checks returns the recorded budget-check commands.
func (d *InMemoryBillingDispatcher) Checks() []BudgetCheckCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BudgetCheckCommand(nil), d.checks...)
}

// Releases returns the recorded budget-release commands.
func (d *InMemoryBillingDispatcher) Releases() []BudgetReleaseCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BudgetReleaseCommand(nil), d.releases...)
}

// NewInMemoryProductFeedDispatcher constructs an in-memory feed dispatcher.
func NewInMemoryProductFeedDispatcher() *InMemoryProductFeedDispatcher {
	return &InMemoryProductFeedDispatcher{}
}

// InMemoryProductFeedDispatcher records product feed commands in memory.
type InMemoryProductFeedDispatcher struct {
	mu       sync.Mutex
	prepares []FeedPrepareCommand
	cleanups []FeedCleanupCommand
}

func (d *InMemoryProductFeedDispatcher) PrepareFeed(ctx context.Context, cmd FeedPrepareCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepares = append(d.prepares, cmd)
	return nil
}

func (d *InMemoryProductFeedDispatcher) CleanupFeed(ctx context.Context, cmd FeedCleanupCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanups = append(d.cleanups, cmd)
	return nil
}

// Prepares returns the recorded feed-prepare commands.
func (d *InMemoryProductFeedDispatcher) Prepares() []FeedPrepareCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FeedPrepareCommand(nil), d.prepares...)
}

// Cleanups returns the recorded feed-cleanup commands.
func (d *InMemoryProductFeedDispatcher) Cleanups() []FeedCleanupCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FeedCleanupCommand(nil), d.cleanups...)
}

// NewInMemoryAdNetworkDispatcher constructs an in-memory ad network
// dispatcher.
func NewInMemoryAdNetworkDispatcher() *InMemoryAdNetworkDispatcher {
	return &InMemoryAdNetworkDispatcher{}
}

// InMemoryAdNetworkDispatcher records ad network commands in memory.
type InMemoryAdNetworkDispatcher struct {
	mu        sync.Mutex
	publishes []AdPublishCommand
	deletes   []AdDeleteCommand
}

func (d *InMemoryAdNetworkDispatcher) PublishCampaign(ctx context.Context, cmd AdPublishCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishes = append(d.publishes, cmd)
	return nil
}

func (d *InMemoryAdNetworkDispatcher) DeleteCampaign(ctx context.Context, cmd AdDeleteCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes = append(d.deletes, cmd)
	return nil
}

// Publishes returns the recorded publish commands.
func (d *InMemoryAdNetworkDispatcher) Publishes() []AdPublishCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AdPublishCommand(nil), d.publishes...)
}

// Deletes returns the recorded delete commands.
func (d *InMemoryAdNetworkDispatcher) Deletes() []AdDeleteCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AdDeleteCommand(nil), d.deletes...)
}

// NewInMemoryCampaignDispatcher constructs an in-memory campaign
// dispatcher.
func NewInMemoryCampaignDispatcher() *InMemoryCampaignDispatcher {
	return &InMemoryCampaignDispatcher{}
}

// InMemoryCampaignDispatcher records status-update commands in memory.
type InMemoryCampaignDispatcher struct {
	mu      sync.Mutex
	updates []StatusUpdateCommand
}

func (d *InMemoryCampaignDispatcher) UpdateStatus(ctx context.Context, cmd StatusUpdateCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, cmd)
	return nil
}

// Updates returns the recorded status-update commands.
func (d *InMemoryCampaignDispatcher) Updates() []StatusUpdateCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]StatusUpdateCommand(nil), d.updates...)
}

// NewInMemoryOutcomePublisher constructs an in-memory outcome publisher.
func NewInMemoryOutcomePublisher() *InMemoryOutcomePublisher {
	return &InMemoryOutcomePublisher{}
}

// InMemoryOutcomePublisher records outcome events in memory.
type InMemoryOutcomePublisher struct {
	mu        sync.Mutex
	completed []PublishingCompleted
	failed    []PublishingFailed
}

func (p *InMemoryOutcomePublisher) PublishCompleted(ctx context.Context, evt PublishingCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, evt)
	return nil
}

func (p *InMemoryOutcomePublisher) PublishFailed(ctx context.Context, evt PublishingFailed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, evt)
	return nil
}

// Completed returns the recorded completed outcomes.
func (p *InMemoryOutcomePublisher) Completed() []PublishingCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishingCompleted(nil), p.completed...)
}

// Failed returns the recorded failed outcomes.
func (p *InMemoryOutcomePublisher) Failed() []PublishingFailed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishingFailed(nil), p.failed...)
}
