package saga

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedInstance(t *testing.T, store *InMemoryInstanceStore) Instance {
	t.Helper()
	inst, err := store.Create(context.Background(), Instance{
		CorrelationID: "corr-1",
		CampaignID:    "camp-1",
		MerchantID:    "merch-1",
		CurrentState:  StateStarted,
		Payload:       Payload{Request: publishRequest()},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return inst
}

func TestMemoryStoreCreateRejectsDuplicateCorrelationID(t *testing.T) {
	store := NewInMemoryInstanceStore()
	seedInstance(t, store)

	_, err := store.Create(context.Background(), Instance{CorrelationID: "corr-1"})
	if !errors.Is(err, ErrDuplicateCorrelationID) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryStoreFindMissing(t *testing.T) {
	store := NewInMemoryInstanceStore()

	if _, err := store.FindByCorrelationID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.FindByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryStoreUpdateStateVersionCAS(t *testing.T) {
	store := NewInMemoryInstanceStore()
	inst := seedInstance(t, store)
	ctx := context.Background()

	updated, err := store.UpdateState(ctx, inst.ID, inst.Version, StatePendingBillingCheck, nil, "")
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if updated.Version != inst.Version+1 {
		t.Fatalf("version not bumped: %d", updated.Version)
	}

	// A writer holding the old version must lose.
	if _, err := store.UpdateState(ctx, inst.ID, inst.Version, StateCompensating, nil, ""); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("unexpected error: %v", err)
	}

	current, err := store.FindByID(ctx, inst.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if current.CurrentState != StatePendingBillingCheck {
		t.Fatalf("conflicting write applied: %s", current.CurrentState)
	}
}

func TestMemoryStoreUpdateStatePatchAndReason(t *testing.T) {
	store := NewInMemoryInstanceStore()
	inst := seedInstance(t, store)
	ctx := context.Background()

	patch := inst.Payload
	patch.CompliantNetworkIDs = []string{"google"}
	patch.FeedURLs = map[string]string{"google": "https://feeds.example/google"}

	updated, err := store.UpdateState(ctx, inst.ID, inst.Version, StatePendingAdNetworkPublish, &patch, "why not")
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if len(updated.Payload.CompliantNetworkIDs) != 1 {
		t.Fatalf("patch not applied: %+v", updated.Payload)
	}
	if updated.LastFailureReason != "why not" {
		t.Fatalf("failure reason not stored: %q", updated.LastFailureReason)
	}
}

func TestMemoryStoreTerminalNetworkStatusNeverRegresses(t *testing.T) {
	store := NewInMemoryInstanceStore()
	inst := seedInstance(t, store)
	ctx := context.Background()

	first, err := store.UpdateAdNetworkStatus(ctx, inst.ID, "google", NetworkPublishDetail{
		Status:             PublishSuccess,
		ExternalCampaignID: "g-123",
		UpdatedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpdateAdNetworkStatus: %v", err)
	}

	// A late duplicate with a different verdict is dropped without a
	// version bump.
	second, err := store.UpdateAdNetworkStatus(ctx, inst.ID, "google", NetworkPublishDetail{
		Status:        PublishFailure,
		FailureReason: "late duplicate",
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("duplicate UpdateAdNetworkStatus: %v", err)
	}
	if second.AdNetworkPublishStatus["google"].Status != PublishSuccess {
		t.Fatalf("terminal status regressed: %+v", second.AdNetworkPublishStatus["google"])
	}
	if second.Version != first.Version {
		t.Fatalf("dropped duplicate bumped the version: %d -> %d", first.Version, second.Version)
	}

	// A PENDING entry may still move to a terminal status.
	if _, err := store.UpdateAdNetworkStatus(ctx, inst.ID, "meta", NetworkPublishDetail{Status: PublishPending}); err != nil {
		t.Fatalf("init meta: %v", err)
	}
	final, err := store.UpdateAdNetworkStatus(ctx, inst.ID, "meta", NetworkPublishDetail{Status: PublishFailure, FailureReason: "rejected"})
	if err != nil {
		t.Fatalf("finalize meta: %v", err)
	}
	if final.AdNetworkPublishStatus["meta"].Status != PublishFailure {
		t.Fatalf("pending entry did not advance: %+v", final.AdNetworkPublishStatus["meta"])
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewInMemoryInstanceStore()
	inst := seedInstance(t, store)
	ctx := context.Background()

	got, err := store.FindByID(ctx, inst.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	got.AdNetworkPublishStatus["rogue"] = NetworkPublishDetail{Status: PublishSuccess}
	got.Payload.Request.TargetAdNetworkIDs[0] = "mutated"

	fresh, err := store.FindByID(ctx, inst.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if _, ok := fresh.AdNetworkPublishStatus["rogue"]; ok {
		t.Fatalf("map mutation leaked into the store")
	}
	if fresh.Payload.Request.TargetAdNetworkIDs[0] != "google" {
		t.Fatalf("slice mutation leaked into the store")
	}
}
