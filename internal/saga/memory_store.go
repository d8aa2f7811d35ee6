package saga

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInMemoryInstanceStore constructs an in-memory InstanceStore for
// tests and local runs.
func NewInMemoryInstanceStore() *InMemoryInstanceStore {
	return &InMemoryInstanceStore{
		byID:   make(map[string]Instance),
		byCorr: make(map[string]string),
	}
}

// InMemoryInstanceStore keeps saga instances in process memory with the
// same conflict semantics as the Postgres store.
type InMemoryInstanceStore struct {
	mu     sync.Mutex
	byID   map[string]Instance
	byCorr map[string]string
}

func (s *InMemoryInstanceStore) Create(ctx context.Context, inst Instance) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCorr[inst.CorrelationID]; exists {
		return Instance{}, ErrDuplicateCorrelationID
	}

	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	inst.Version = 1
	if inst.AdNetworkPublishStatus == nil {
		inst.AdNetworkPublishStatus = make(map[string]NetworkPublishDetail)
	}

	s.byID[inst.ID] = inst
	s.byCorr[inst.CorrelationID] = inst.ID
	return copyInstance(inst), nil
}

func (s *InMemoryInstanceStore) FindByCorrelationID(ctx context.Context, correlationID string) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCorr[correlationID]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return copyInstance(s.byID[id]), nil
}

func (s *InMemoryInstanceStore) FindByID(ctx context.Context, id string) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return Instance{}, ErrNotFound
	}
	return copyInstance(inst), nil
}

func (s *InMemoryInstanceStore) UpdateState(ctx context.Context, id string, expectedVersion int64, newState State, patch *Payload, failureReason string) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return Instance{}, ErrNotFound
	}
	if inst.Version != expectedVersion {
		return Instance{}, ErrVersionConflict
	}

	inst.CurrentState = newState
	if patch != nil {
		inst.Payload = *patch
	}
	if failureReason != "" {
		inst.LastFailureReason = failureReason
	}
	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.byID[id] = inst
	return copyInstance(inst), nil
}

func (s *InMemoryInstanceStore) UpdateAdNetworkStatus(ctx context.Context, id string, networkID string, detail NetworkPublishDetail) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return Instance{}, ErrNotFound
	}

	// A terminal per-network status never regresses; the first terminal
	// write wins and duplicates are dropped.
	statuses := make(map[string]NetworkPublishDetail, len(inst.AdNetworkPublishStatus)+1)
	for k, v := range inst.AdNetworkPublishStatus {
		statuses[k] = v
	}
	if existing, ok := statuses[networkID]; !ok || !existing.Status.Terminal() {
		statuses[networkID] = detail
		inst.Version++
		inst.UpdatedAt = time.Now().UTC()
	}
	inst.AdNetworkPublishStatus = statuses
	s.byID[id] = inst
	return copyInstance(inst), nil
}

func (s *InMemoryInstanceStore) SetCompensating(ctx context.Context, id string, compensating bool) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return Instance{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.byID[id]
	if !ok {
		return Instance{}, ErrNotFound
	}
	inst.IsCompensating = compensating
	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.byID[id] = inst
	return copyInstance(inst), nil
}

func copyInstance(inst Instance) Instance {
	out := inst
	out.AdNetworkPublishStatus = make(map[string]NetworkPublishDetail, len(inst.AdNetworkPublishStatus))
	for k, v := range inst.AdNetworkPublishStatus {
		out.AdNetworkPublishStatus[k] = v
	}
	if inst.Payload.Request.TargetAdNetworkIDs != nil {
		out.Payload.Request.TargetAdNetworkIDs = append([]string(nil), inst.Payload.Request.TargetAdNetworkIDs...)
	}
	if inst.Payload.CompliantNetworkIDs != nil {
		out.Payload.CompliantNetworkIDs = append([]string(nil), inst.Payload.CompliantNetworkIDs...)
	}
	if inst.Payload.FeedURLs != nil {
		out.Payload.FeedURLs = make(map[string]string, len(inst.Payload.FeedURLs))
		for k, v := range inst.Payload.FeedURLs {
			out.Payload.FeedURLs[k] = v
		}
	}
	return out
}
