package saga

import "context"

// Outbound commands carry correlation metadata on every message so the
// downstream services can address their replies.

// BudgetCheckCommand asks billing to reserve the campaign budget.
type BudgetCheckCommand struct {
	CorrelationID string `json:"correlation_id"`
	CampaignID    string `json:"campaign_id"`
	MerchantID    string `json:"merchant_id"`
	BudgetCents   int64  `json:"budget_cents"`
}

// BudgetReleaseCommand compensates a budget reservation.
type BudgetReleaseCommand struct {
	CorrelationID string `json:"correlation_id"`
	CampaignID    string `json:"campaign_id"`
	MerchantID    string `json:"merchant_id"`
}

// FeedPrepareCommand asks the product catalog to prepare feeds for the
// target ad networks.
type FeedPrepareCommand struct {
	CorrelationID      string   `json:"correlation_id"`
	CampaignID         string   `json:"campaign_id"`
	MerchantID         string   `json:"merchant_id"`
	ProductCatalogID   string   `json:"product_catalog_id"`
	TargetAdNetworkIDs []string `json:"target_ad_network_ids"`
}

// FeedCleanupCommand compensates prepared feeds.
type FeedCleanupCommand struct {
	CorrelationID      string   `json:"correlation_id"`
	CampaignID         string   `json:"campaign_id"`
	MerchantID         string   `json:"merchant_id"`
	ProductCatalogID   string   `json:"product_catalog_id"`
	TargetAdNetworkIDs []string `json:"target_ad_network_ids"`
}

// AdPublishCommand asks one ad network integration to publish the
// campaign with its prepared feed.
type AdPublishCommand struct {
	CorrelationID string `json:"correlation_id"`
	CampaignID    string `json:"campaign_id"`
	MerchantID    string `json:"merchant_id"`
	AdNetworkID   string `json:"ad_network_id"`
	FeedURL       string `json:"feed_url,omitempty"`
	BudgetCents   int64  `json:"budget_cents"`
}

// AdDeleteCommand compensates a successful network publication using the
// external campaign id recorded from the publish reply.
type AdDeleteCommand struct {
	CorrelationID      string `json:"correlation_id"`
	CampaignID         string `json:"campaign_id"`
	MerchantID         string `json:"merchant_id"`
	AdNetworkID        string `json:"ad_network_id"`
	ExternalCampaignID string `json:"external_campaign_id"`
}

// NetworkResult summarizes one network's outcome for the status update
// and the completed outcome event.
type NetworkResult struct {
	AdNetworkID        string        `json:"ad_network_id"`
	Status             PublishStatus `json:"status"`
	ExternalCampaignID string        `json:"external_campaign_id,omitempty"`
	FailureReason      string        `json:"failure_reason,omitempty"`
}

// StatusUpdateCommand asks the campaign service to record the final
// publication status.
type StatusUpdateCommand struct {
	CorrelationID  string          `json:"correlation_id"`
	CampaignID     string          `json:"campaign_id"`
	MerchantID     string          `json:"merchant_id"`
	NewStatus      CampaignStatus  `json:"new_status"`
	NetworkResults []NetworkResult `json:"network_results"`
}

// PublishingCompleted is the terminal outcome event for a successful
// saga.
type PublishingCompleted struct {
	SagaInstanceID      string          `json:"saga_instance_id"`
	CorrelationID       string          `json:"correlation_id"`
	CampaignID          string          `json:"campaign_id"`
	MerchantID          string          `json:"merchant_id"`
	FinalStatus         string          `json:"final_status"`
	PublishedAdNetworks []NetworkResult `json:"published_ad_networks"`
}

// PublishingFailed is the terminal outcome event for a failed saga,
// naming the step at which the failure occurred.
type PublishingFailed struct {
	SagaInstanceID string `json:"saga_instance_id"`
	CorrelationID  string `json:"correlation_id"`
	CampaignID     string `json:"campaign_id"`
	MerchantID     string `json:"merchant_id"`
	Reason         string `json:"reason"`
	FailedStep     string `json:"failed_step"`
}

// BillingDispatcher sends billing commands.
type BillingDispatcher interface {
	CheckBudget(ctx context.Context, cmd BudgetCheckCommand) error
	ReleaseBudget(ctx context.Context, cmd BudgetReleaseCommand) error
}

// ProductFeedDispatcher sends product catalog commands.
type ProductFeedDispatcher interface {
	PrepareFeed(ctx context.Context, cmd FeedPrepareCommand) error
	CleanupFeed(ctx context.Context, cmd FeedCleanupCommand) error
}

// AdNetworkDispatcher sends ad network integration commands.
type AdNetworkDispatcher interface {
	PublishCampaign(ctx context.Context, cmd AdPublishCommand) error
	DeleteCampaign(ctx context.Context, cmd AdDeleteCommand) error
}

// CampaignDispatcher sends campaign management commands.
type CampaignDispatcher interface {
	UpdateStatus(ctx context.Context, cmd StatusUpdateCommand) error
}

// OutcomePublisher emits the externally observable saga outcome events.
type OutcomePublisher interface {
	PublishCompleted(ctx context.Context, evt PublishingCompleted) error
	PublishFailed(ctx context.Context, evt PublishingFailed) error
}
