package events

import "adlift/internal/saga"

// Recognized event-type tags. The trigger arrives on the request
// stream; the eight reply types arrive on the shared reply stream.
const (
	TypePublishRequested = "campaign.publish.requested"

	TypeBillingCheckSucceeded      = "billing.check.succeeded"
	TypeBillingCheckFailed         = "billing.check.failed"
	TypeProductFeedReady           = "productfeed.ready"
	TypeProductFeedPrepFailed      = "productfeed.preparation.failed"
	TypeAdNetworkPublishSucceeded  = "adnetwork.publish.succeeded"
	TypeAdNetworkPublishFailed     = "adnetwork.publish.failed"
	TypeCampaignStatusUpdated      = "campaign.status.updated"
	TypeCampaignStatusUpdateFailed = "campaign.status.update.failed"
)

// Reply body shapes. Failure variants carry a reason; the feed-ready
// body carries the per-network compliance verdicts.

type failureBody struct {
	Reason string `json:"reason"`
}

type feedReadyBody struct {
	FeedComplianceStatus map[string]saga.FeedCompliance `json:"feed_compliance_status"`
}

type adNetworkSuccessBody struct {
	AdNetworkID        string `json:"ad_network_id"`
	ExternalCampaignID string `json:"external_campaign_id"`
}

type adNetworkFailureBody struct {
	AdNetworkID string `json:"ad_network_id"`
	Reason      string `json:"reason"`
}
