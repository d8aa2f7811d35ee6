package saga

// Reply results decoded at the transport boundary. Success and failure
// event variants collapse into one result type per step; handlers branch
// on the flags rather than on event-type strings.

// BillingCheckResult is the billing service's budget-check reply.
type BillingCheckResult struct {
	Approved bool
	Reason   string
}

// FeedCompliance is one network's verdict in the feed-ready reply.
type FeedCompliance struct {
	Compliant bool   `json:"compliant"`
	FeedURL   string `json:"feed_url,omitempty"`
}

// ProductFeedResult is the product catalog's feed-preparation reply.
type ProductFeedResult struct {
	Ready      bool
	Reason     string
	Compliance map[string]FeedCompliance
}

// AdNetworkPublishResult is one ad network's publish reply.
type AdNetworkPublishResult struct {
	AdNetworkID        string
	Success            bool
	ExternalCampaignID string
	Reason             string
}

// CampaignStatusUpdateResult is the campaign service's status-update
// reply.
type CampaignStatusUpdateResult struct {
	Success bool
	Reason  string
}
