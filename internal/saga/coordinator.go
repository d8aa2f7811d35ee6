package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransitionRecorder receives state transitions for audit. Failures are
// logged by the coordinator and never affect saga processing.
type TransitionRecorder interface {
	Record(correlationID string, from, to State, reason string) error
}

// Observer receives saga lifecycle counters.
type Observer interface {
	SagaStarted()
	SagaCompleted()
	SagaFailed(terminal State)
	CompensationDispatched(command string)
}

// CoordinatorConfig wires a Coordinator's collaborators. Journal,
// Observer and Logf are optional.
type CoordinatorConfig struct {
	Store        InstanceStore
	Billing      BillingDispatcher
	ProductFeeds ProductFeedDispatcher
	AdNetworks   AdNetworkDispatcher
	Campaigns    CampaignDispatcher
	Outcomes     OutcomePublisher
	Journal      TransitionRecorder
	Observer     Observer
	Logf         func(format string, args ...any)
}

// Coordinator owns the campaign publishing state machine. Each inbound
// reply re-reads the instance, checks the state guard, performs one
// transition, and dispatches the next command(s). The coordinator never
// blocks waiting for a reply; the wait lives in the message transport.
type Coordinator struct {
	store        InstanceStore
	billing      BillingDispatcher
	productFeeds ProductFeedDispatcher
	adNetworks   AdNetworkDispatcher
	campaigns    CampaignDispatcher
	outcomes     OutcomePublisher
	journal      TransitionRecorder
	observer     Observer
	logf         func(format string, args ...any)
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Coordinator{
		store:        cfg.Store,
		billing:      cfg.Billing,
		productFeeds: cfg.ProductFeeds,
		adNetworks:   cfg.AdNetworks,
		campaigns:    cfg.Campaigns,
		outcomes:     cfg.Outcomes,
		journal:      cfg.Journal,
		observer:     cfg.Observer,
		logf:         logf,
	}
}

// StartSaga creates the saga instance and dispatches the budget check.
// A persistence failure surfaces as an error: nothing was dispatched
// yet, so there is nothing to compensate. A duplicate trigger for an
// existing correlation id is dropped.
func (c *Coordinator) StartSaga(ctx context.Context, req PublishRequest) (Instance, error) {
	if err := validateRequest(req); err != nil {
		return Instance{}, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = req.CampaignID
	}
	req.CorrelationID = correlationID

	created, err := c.store.Create(ctx, Instance{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		CampaignID:    req.CampaignID,
		MerchantID:    req.MerchantID,
		CurrentState:  StateStarted,
		Payload:       Payload{Request: req},
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateCorrelationID) {
			c.logf("WARN saga %s: duplicate publish trigger dropped", correlationID)
			return c.store.FindByCorrelationID(ctx, correlationID)
		}
		return Instance{}, fmt.Errorf("create saga %s: %w", correlationID, err)
	}
	if c.observer != nil {
		c.observer.SagaStarted()
	}
	c.record(correlationID, "", StateStarted, "")

	inst, err := c.store.UpdateState(ctx, created.ID, created.Version, StatePendingBillingCheck, nil, "")
	if err != nil {
		return Instance{}, fmt.Errorf("initialize saga %s: %w", correlationID, err)
	}
	c.record(correlationID, StateStarted, StatePendingBillingCheck, "")

	err = c.billing.CheckBudget(ctx, BudgetCheckCommand{
		CorrelationID: correlationID,
		CampaignID:    req.CampaignID,
		MerchantID:    req.MerchantID,
		BudgetCents:   req.BudgetCents,
	})
	if err != nil {
		return c.failSaga(ctx, inst, fmt.Sprintf("budget check dispatch failed: %v", err)), nil
	}
	return inst, nil
}

// HandleBillingCheck processes the billing reply. Valid only while the
// saga awaits the budget check.
func (c *Coordinator) HandleBillingCheck(ctx context.Context, correlationID string, res BillingCheckResult) error {
	inst, err := c.load(ctx, correlationID)
	if err != nil {
		return err
	}
	if !c.guard(inst, StatePendingBillingCheck, "billing check") {
		return nil
	}

	if !res.Approved {
		c.failSaga(ctx, inst, "billing rejected budget: "+res.Reason)
		return nil
	}

	next, err := c.advance(ctx, inst, StatePendingProductFeedPrep, nil)
	if err != nil || next.CurrentState != StatePendingProductFeedPrep {
		return err
	}

	req := next.Payload.Request
	err = c.productFeeds.PrepareFeed(ctx, FeedPrepareCommand{
		CorrelationID:      correlationID,
		CampaignID:         req.CampaignID,
		MerchantID:         req.MerchantID,
		ProductCatalogID:   req.ProductCatalogID,
		TargetAdNetworkIDs: req.TargetAdNetworkIDs,
	})
	if err != nil {
		c.failSaga(ctx, next, fmt.Sprintf("feed preparation dispatch failed: %v", err))
	}
	return nil
}

// HandleProductFeed processes the feed-preparation reply. On ready it
// records the compliant network subset and fans out one publish command
// per compliant network; the fan-out has no ordering guarantee.
func (c *Coordinator) HandleProductFeed(ctx context.Context, correlationID string, res ProductFeedResult) error {
	inst, err := c.load(ctx, correlationID)
	if err != nil {
		return err
	}
	if !c.guard(inst, StatePendingProductFeedPrep, "product feed") {
		return nil
	}

	if !res.Ready {
		c.failSaga(ctx, inst, "feed preparation failed: "+res.Reason)
		return nil
	}

	req := inst.Payload.Request
	var compliant []string
	feedURLs := make(map[string]string)
	for _, networkID := range req.TargetAdNetworkIDs {
		verdict, ok := res.Compliance[networkID]
		if !ok || !verdict.Compliant {
			continue
		}
		compliant = append(compliant, networkID)
		if verdict.FeedURL != "" {
			feedURLs[networkID] = verdict.FeedURL
		}
	}
	if len(compliant) == 0 {
		c.failSaga(ctx, inst, "no target ad network passed feed compliance")
		return nil
	}

	patch := inst.Payload
	patch.CompliantNetworkIDs = compliant
	patch.FeedURLs = feedURLs

	next, err := c.advance(ctx, inst, StatePendingAdNetworkPublish, &patch)
	if err != nil || next.CurrentState != StatePendingAdNetworkPublish {
		return err
	}

	now := time.Now().UTC()
	for _, networkID := range compliant {
		if _, err := c.store.UpdateAdNetworkStatus(ctx, next.ID, networkID, NetworkPublishDetail{
			Status:    PublishPending,
			UpdatedAt: now,
		}); err != nil {
			c.logf("ERROR saga %s: init publish status for %s: %v", correlationID, networkID, err)
		}
	}

	dispatchErrs := make(map[string]error, len(compliant))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, networkID := range compliant {
		wg.Add(1)
		go func(networkID string) {
			defer wg.Done()
			err := c.adNetworks.PublishCampaign(ctx, AdPublishCommand{
				CorrelationID: correlationID,
				CampaignID:    req.CampaignID,
				MerchantID:    req.MerchantID,
				AdNetworkID:   networkID,
				FeedURL:       feedURLs[networkID],
				BudgetCents:   req.BudgetCents,
			})
			if err != nil {
				mu.Lock()
				dispatchErrs[networkID] = err
				mu.Unlock()
			}
		}(networkID)
	}
	wg.Wait()

	if len(dispatchErrs) == 0 {
		return nil
	}

	// A network whose publish command never left will never reply; give
	// it a terminal failure so the join cannot stall on it.
	var latest Instance
	for networkID, dispatchErr := range dispatchErrs {
		c.logf("ERROR saga %s: publish dispatch to %s failed: %v", correlationID, networkID, dispatchErr)
		updated, err := c.store.UpdateAdNetworkStatus(ctx, next.ID, networkID, NetworkPublishDetail{
			Status:        PublishFailure,
			FailureReason: fmt.Sprintf("publish dispatch failed: %v", dispatchErr),
			UpdatedAt:     time.Now().UTC(),
		})
		if err != nil {
			c.logf("ERROR saga %s: record dispatch failure for %s: %v", correlationID, networkID, err)
			continue
		}
		latest = updated
	}
	if latest.ID == "" {
		return nil
	}
	return c.evaluateFanOut(ctx, latest)
}

// HandleAdNetworkPublish records one network's publish result. The saga
// advances only when every compliant network has a terminal result,
// regardless of reply order.
func (c *Coordinator) HandleAdNetworkPublish(ctx context.Context, correlationID string, res AdNetworkPublishResult) error {
	inst, err := c.load(ctx, correlationID)
	if err != nil {
		return err
	}
	if !c.guard(inst, StatePendingAdNetworkPublish, "ad network publish") {
		return nil
	}
	if !contains(inst.Payload.CompliantNetworkIDs, res.AdNetworkID) {
		c.logf("WARN saga %s: publish reply from %q outside the compliant set dropped", correlationID, res.AdNetworkID)
		return nil
	}

	detail := NetworkPublishDetail{
		Status:             PublishSuccess,
		ExternalCampaignID: res.ExternalCampaignID,
		UpdatedAt:          time.Now().UTC(),
	}
	if !res.Success {
		detail = NetworkPublishDetail{
			Status:        PublishFailure,
			FailureReason: res.Reason,
			UpdatedAt:     time.Now().UTC(),
		}
	}

	updated, err := c.store.UpdateAdNetworkStatus(ctx, inst.ID, res.AdNetworkID, detail)
	if err != nil {
		return fmt.Errorf("record publish result for saga %s network %s: %w", correlationID, res.AdNetworkID, err)
	}
	return c.evaluateFanOut(ctx, updated)
}

// HandleCampaignStatusUpdate processes the final status-update reply. A
// failure here lands in FAILED_FINALIZATION with no compensation: the
// ad networks are already live and rolling them back is riskier than a
// flagged inconsistency.
func (c *Coordinator) HandleCampaignStatusUpdate(ctx context.Context, correlationID string, res CampaignStatusUpdateResult) error {
	inst, err := c.load(ctx, correlationID)
	if err != nil {
		return err
	}
	if !c.guard(inst, StatePendingCampaignStatusUpdate, "campaign status update") {
		return nil
	}

	if !res.Success {
		c.finalizeFailed(ctx, inst, "campaign status update failed: "+res.Reason)
		return nil
	}

	done, err := c.advance(ctx, inst, StateCompleted, nil)
	if err != nil || done.CurrentState != StateCompleted {
		return err
	}
	if c.observer != nil {
		c.observer.SagaCompleted()
	}
	if err := c.outcomes.PublishCompleted(ctx, PublishingCompleted{
		SagaInstanceID:      done.ID,
		CorrelationID:       done.CorrelationID,
		CampaignID:          done.CampaignID,
		MerchantID:          done.MerchantID,
		FinalStatus:         string(StateCompleted),
		PublishedAdNetworks: networkResults(done),
	}); err != nil {
		c.logf("ERROR saga %s: publish completed outcome: %v", correlationID, err)
	}
	return nil
}

// evaluateFanOut applies the join: once every compliant network has a
// terminal result it either advances to the status update or, when no
// network succeeded, compensates and fails.
func (c *Coordinator) evaluateFanOut(ctx context.Context, inst Instance) error {
	var successes int
	for _, networkID := range inst.Payload.CompliantNetworkIDs {
		detail, ok := inst.AdNetworkPublishStatus[networkID]
		if !ok || !detail.Status.Terminal() {
			return nil
		}
		if detail.Status == PublishSuccess {
			successes++
		}
	}

	if successes == 0 {
		c.failSaga(ctx, inst, "every compliant ad network failed to publish")
		return nil
	}

	status := CampaignActive
	if successes < len(inst.Payload.CompliantNetworkIDs) {
		status = CampaignPartiallyPublished
	}

	next, err := c.advance(ctx, inst, StatePendingCampaignStatusUpdate, nil)
	if err != nil || next.CurrentState != StatePendingCampaignStatusUpdate {
		return err
	}

	err = c.campaigns.UpdateStatus(ctx, StatusUpdateCommand{
		CorrelationID:  next.CorrelationID,
		CampaignID:     next.CampaignID,
		MerchantID:     next.MerchantID,
		NewStatus:      status,
		NetworkResults: networkResults(next),
	})
	if err != nil {
		// Publications are live; do not compensate them over a lost
		// status update.
		c.finalizeFailed(ctx, next, fmt.Sprintf("status update dispatch failed: %v", err))
	}
	return nil
}

// failSaga drives the compensation path and terminates the saga in
// FAILED. Compensation dispatches are fire-and-forget: their failures
// are logged and never block the terminal transition.
func (c *Coordinator) failSaga(ctx context.Context, inst Instance, reason string) Instance {
	failedStep := inst.CurrentState
	c.logf("WARN saga %s: failing at %s: %s", inst.CorrelationID, failedStep, reason)

	updated, err := c.store.SetCompensating(ctx, inst.ID, true)
	if err != nil {
		c.logf("ERROR saga %s: mark compensating: %v", inst.CorrelationID, err)
		updated = inst
	}

	updated, err = c.store.UpdateState(ctx, updated.ID, updated.Version, StateCompensating, nil, reason)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			c.logf("WARN saga %s: concurrent writer during failure, dropping", inst.CorrelationID)
			return inst
		}
		c.logf("ERROR saga %s: transition to COMPENSATING: %v", inst.CorrelationID, err)
		updated = inst
	}
	c.record(inst.CorrelationID, failedStep, StateCompensating, reason)

	c.compensate(ctx, updated, failedStep)

	final, err := c.store.UpdateState(ctx, updated.ID, updated.Version, StateFailed, nil, reason)
	if err != nil {
		c.logf("ERROR saga %s: transition to FAILED: %v", inst.CorrelationID, err)
		final = updated
	}
	c.record(inst.CorrelationID, StateCompensating, StateFailed, reason)

	if cleared, err := c.store.SetCompensating(ctx, final.ID, false); err != nil {
		c.logf("ERROR saga %s: clear compensating: %v", inst.CorrelationID, err)
	} else {
		final = cleared
	}

	if c.observer != nil {
		c.observer.SagaFailed(StateFailed)
	}
	if err := c.outcomes.PublishFailed(ctx, PublishingFailed{
		SagaInstanceID: final.ID,
		CorrelationID:  final.CorrelationID,
		CampaignID:     final.CampaignID,
		MerchantID:     final.MerchantID,
		Reason:         reason,
		FailedStep:     string(failedStep),
	}); err != nil {
		c.logf("ERROR saga %s: publish failed outcome: %v", inst.CorrelationID, err)
	}
	return final
}

// compensate unwinds completed steps in reverse order of execution.
func (c *Coordinator) compensate(ctx context.Context, inst Instance, failedStep State) {
	switch failedStep {
	case StatePendingAdNetworkPublish, StatePendingCampaignStatusUpdate:
		c.compensateAdNetworks(ctx, inst)
		c.compensateProductFeed(ctx, inst)
		c.compensateBilling(ctx, inst)
	case StatePendingProductFeedPrep:
		c.compensateBilling(ctx, inst)
	}
}

func (c *Coordinator) compensateAdNetworks(ctx context.Context, inst Instance) {
	for _, networkID := range inst.Payload.CompliantNetworkIDs {
		detail := inst.AdNetworkPublishStatus[networkID]
		if detail.Status != PublishSuccess {
			continue
		}
		if detail.ExternalCampaignID == "" {
			c.logf("WARN saga %s: no external campaign id for %s, skipping delete", inst.CorrelationID, networkID)
			continue
		}
		err := c.adNetworks.DeleteCampaign(ctx, AdDeleteCommand{
			CorrelationID:      inst.CorrelationID,
			CampaignID:         inst.CampaignID,
			MerchantID:         inst.MerchantID,
			AdNetworkID:        networkID,
			ExternalCampaignID: detail.ExternalCampaignID,
		})
		c.noteCompensation(inst, "adnetwork.delete", err)
	}
}

func (c *Coordinator) compensateProductFeed(ctx context.Context, inst Instance) {
	req := inst.Payload.Request
	err := c.productFeeds.CleanupFeed(ctx, FeedCleanupCommand{
		CorrelationID:      inst.CorrelationID,
		CampaignID:         inst.CampaignID,
		MerchantID:         inst.MerchantID,
		ProductCatalogID:   req.ProductCatalogID,
		TargetAdNetworkIDs: req.TargetAdNetworkIDs,
	})
	c.noteCompensation(inst, "productfeed.cleanup", err)
}

func (c *Coordinator) compensateBilling(ctx context.Context, inst Instance) {
	err := c.billing.ReleaseBudget(ctx, BudgetReleaseCommand{
		CorrelationID: inst.CorrelationID,
		CampaignID:    inst.CampaignID,
		MerchantID:    inst.MerchantID,
	})
	c.noteCompensation(inst, "billing.release", err)
}

func (c *Coordinator) noteCompensation(inst Instance, command string, err error) {
	if err != nil {
		c.logf("ERROR saga %s: compensation %s dispatch failed: %v", inst.CorrelationID, command, err)
		return
	}
	if c.observer != nil {
		c.observer.CompensationDispatched(command)
	}
}

// finalizeFailed terminates the saga in FAILED_FINALIZATION: the status
// update failed after ad networks went live, so the saga is flagged for
// manual reconciliation instead of compensated.
func (c *Coordinator) finalizeFailed(ctx context.Context, inst Instance, reason string) {
	final, err := c.store.UpdateState(ctx, inst.ID, inst.Version, StateFailedFinalization, nil, reason)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			c.logf("WARN saga %s: concurrent writer during finalization failure, dropping", inst.CorrelationID)
			return
		}
		c.logf("ERROR saga %s: transition to FAILED_FINALIZATION: %v", inst.CorrelationID, err)
		final = inst
	}
	c.record(inst.CorrelationID, StatePendingCampaignStatusUpdate, StateFailedFinalization, reason)
	if c.observer != nil {
		c.observer.SagaFailed(StateFailedFinalization)
	}
	if err := c.outcomes.PublishFailed(ctx, PublishingFailed{
		SagaInstanceID: final.ID,
		CorrelationID:  final.CorrelationID,
		CampaignID:     final.CampaignID,
		MerchantID:     final.MerchantID,
		Reason:         reason,
		FailedStep:     string(StatePendingCampaignStatusUpdate),
	}); err != nil {
		c.logf("ERROR saga %s: publish failed outcome: %v", inst.CorrelationID, err)
	}
}

// advance performs a guarded state transition. A version conflict means
// another handler moved the saga first; the event is logged and dropped.
func (c *Coordinator) advance(ctx context.Context, inst Instance, to State, patch *Payload) (Instance, error) {
	next, err := c.store.UpdateState(ctx, inst.ID, inst.Version, to, patch, "")
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			c.logf("WARN saga %s: lost transition race to %s, dropping event", inst.CorrelationID, to)
			return inst, nil
		}
		return inst, fmt.Errorf("advance saga %s to %s: %w", inst.CorrelationID, to, err)
	}
	c.record(inst.CorrelationID, inst.CurrentState, to, "")
	return next, nil
}

// load re-reads the instance. A missing instance for a correlation id
// that should exist is a consistency error and propagates so the
// transport retries and eventually dead-letters the message.
func (c *Coordinator) load(ctx context.Context, correlationID string) (Instance, error) {
	inst, err := c.store.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Instance{}, fmt.Errorf("no saga instance for correlation id %q: %w", correlationID, err)
		}
		return Instance{}, fmt.Errorf("load saga %s: %w", correlationID, err)
	}
	return inst, nil
}

// guard enforces the idempotency check required by at-least-once
// delivery: an event whose expected state does not match the current
// state is stale or duplicate and must not mutate anything.
func (c *Coordinator) guard(inst Instance, expected State, event string) bool {
	if inst.CurrentState == expected {
		return true
	}
	c.logf("WARN saga %s: %s event in state %s (expected %s) dropped", inst.CorrelationID, event, inst.CurrentState, expected)
	return false
}

func (c *Coordinator) record(correlationID string, from, to State, reason string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(correlationID, from, to, reason); err != nil {
		c.logf("ERROR saga %s: journal %s -> %s: %v", correlationID, from, to, err)
	}
}

func networkResults(inst Instance) []NetworkResult {
	results := make([]NetworkResult, 0, len(inst.Payload.CompliantNetworkIDs))
	for _, networkID := range inst.Payload.CompliantNetworkIDs {
		detail := inst.AdNetworkPublishStatus[networkID]
		results = append(results, NetworkResult{
			AdNetworkID:        networkID,
			Status:             detail.Status,
			ExternalCampaignID: detail.ExternalCampaignID,
			FailureReason:      detail.FailureReason,
		})
	}
	return results
}

func validateRequest(req PublishRequest) error {
	if req.CampaignID == "" {
		return errors.New("campaign id is required")
	}
	if req.MerchantID == "" {
		return errors.New("merchant id is required")
	}
	if req.ProductCatalogID == "" {
		return errors.New("product catalog id is required")
	}
	if len(req.TargetAdNetworkIDs) == 0 {
		return errors.New("at least one target ad network is required")
	}
	if req.BudgetCents <= 0 {
		return errors.New("budget must be positive")
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
