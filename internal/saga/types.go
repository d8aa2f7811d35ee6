package saga

import (
	"context"
	"errors"
	"time"
)

// State is the position of a publishing saga in its lifecycle.
type State string

const (
	StateStarted                     State = "STARTED"
	StatePendingBillingCheck         State = "PENDING_BILLING_CHECK"
	StatePendingProductFeedPrep      State = "PENDING_PRODUCT_FEED_PREP"
	StatePendingAdNetworkPublish     State = "PENDING_AD_NETWORK_PUBLISH"
	StatePendingCampaignStatusUpdate State = "PENDING_CAMPAIGN_STATUS_UPDATE"
	StateCompensating                State = "COMPENSATING"
	StateCompleted                   State = "COMPLETED"
	StateFailed                      State = "FAILED"
	StateFailedFinalization          State = "FAILED_FINALIZATION"
)

// Terminal reports whether no further inbound event may move the saga.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateFailedFinalization:
		return true
	}
	return false
}

// PublishStatus is the per-ad-network publication status.
type PublishStatus string

const (
	PublishPending PublishStatus = "PENDING"
	PublishSuccess PublishStatus = "SUCCESS"
	PublishFailure PublishStatus = "FAILURE"
)

// Terminal reports whether the per-network status may no longer change.
func (s PublishStatus) Terminal() bool {
	return s == PublishSuccess || s == PublishFailure
}

// CampaignStatus is the status reported to the campaign service once
// every compliant network has a terminal publish result.
type CampaignStatus string

const (
	CampaignActive             CampaignStatus = "ACTIVE"
	CampaignPartiallyPublished CampaignStatus = "PARTIALLY_PUBLISHED"
)

// NetworkPublishDetail records one ad network's publication outcome.
type NetworkPublishDetail struct {
	Status             PublishStatus `json:"status"`
	ExternalCampaignID string        `json:"external_campaign_id,omitempty"`
	FailureReason      string        `json:"failure_reason,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// PublishRequest is the campaign-creation trigger that starts a saga.
// Budgets are stored in integer units (cents).
type PublishRequest struct {
	CorrelationID      string   `json:"correlation_id,omitempty"`
	CampaignID         string   `json:"campaign_id"`
	MerchantID         string   `json:"merchant_id"`
	BudgetCents        int64    `json:"budget_cents"`
	ProductCatalogID   string   `json:"product_catalog_id"`
	TargetAdNetworkIDs []string `json:"target_ad_network_ids"`
}

// Payload accumulates the original request plus data derived by later
// steps, such as the set of networks whose feed was judged compliant.
type Payload struct {
	Request             PublishRequest    `json:"request"`
	CompliantNetworkIDs []string          `json:"compliant_network_ids,omitempty"`
	FeedURLs            map[string]string `json:"feed_urls,omitempty"`
}

// Instance is the durable record of one publishing attempt. It is the
// sole source of truth for saga progress and doubles as the audit trail;
// rows are never deleted.
type Instance struct {
	ID                     string
	CorrelationID          string
	CampaignID             string
	MerchantID             string
	CurrentState           State
	Payload                Payload
	AdNetworkPublishStatus map[string]NetworkPublishDetail
	IsCompensating         bool
	LastFailureReason      string
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

var (
	// ErrNotFound signals no instance exists for the given key.
	ErrNotFound = errors.New("saga instance not found")
	// ErrDuplicateCorrelationID signals a saga already exists for the
	// correlation id.
	ErrDuplicateCorrelationID = errors.New("saga already exists for correlation id")
	// ErrVersionConflict signals a concurrent writer advanced the
	// instance first; the caller must re-read before acting.
	ErrVersionConflict = errors.New("saga instance version conflict")
)

// InstanceStore persists saga instances keyed by correlation id.
//
// UpdateState is a compare-and-swap on the version column so concurrent
// handlers cannot both advance the same instance. UpdateAdNetworkStatus
// is additive per network id and never lets a terminal status regress to
// PENDING, so near-simultaneous ad-network replies cannot lose writes.
type InstanceStore interface {
	Create(ctx context.Context, inst Instance) (Instance, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (Instance, error)
	FindByID(ctx context.Context, id string) (Instance, error)
	UpdateState(ctx context.Context, id string, expectedVersion int64, newState State, patch *Payload, failureReason string) (Instance, error)
	UpdateAdNetworkStatus(ctx context.Context, id string, networkID string, detail NetworkPublishDetail) (Instance, error)
	SetCompensating(ctx context.Context, id string, compensating bool) (Instance, error)
}
