package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"adlift/internal/messaging"
	"adlift/internal/saga"
)

// Protocol violations. Routing errors propagate to the transport so the
// message is retried and eventually dead-lettered, never silently acked.
var (
	ErrEmptyBody             = errors.New("message has no body")
	ErrMissingCorrelationID  = errors.New("message has no correlation id")
	ErrMissingEventType      = errors.New("message has no event type")
	ErrUnrecognizedEventType = errors.New("unrecognized event type")
)

// Coordinator is the saga surface the router dispatches into.
type Coordinator interface {
	StartSaga(ctx context.Context, req saga.PublishRequest) (saga.Instance, error)
	HandleBillingCheck(ctx context.Context, correlationID string, res saga.BillingCheckResult) error
	HandleProductFeed(ctx context.Context, correlationID string, res saga.ProductFeedResult) error
	HandleAdNetworkPublish(ctx context.Context, correlationID string, res saga.AdNetworkPublishResult) error
	HandleCampaignStatusUpdate(ctx context.Context, correlationID string, res saga.CampaignStatusUpdateResult) error
}

// Span observes one routed event; it is ended with the handler error.
type Span interface {
	End(err error)
}

// Observer opens a span per event type.
type Observer interface {
	Start(eventType string) Span
}

// Router validates reply envelopes and dispatches them to the
// coordinator handler for their event type. Success and failure
// variants of a step map to the same handler.
type Router struct {
	coordinator Coordinator
	observer    Observer
	logf        func(format string, args ...any)
}

// NewRouter constructs a Router. Observer and logf are optional.
func NewRouter(coordinator Coordinator, observer Observer, logf func(format string, args ...any)) *Router {
	if logf == nil {
		logf = log.Printf
	}
	return &Router{coordinator: coordinator, observer: observer, logf: logf}
}

// Route implements messaging.HandlerFunc.
func (r *Router) Route(ctx context.Context, env messaging.Envelope) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("message %s: %w", env.ID, ErrEmptyBody)
	}
	if env.CorrelationID == "" {
		return fmt.Errorf("message %s: %w", env.ID, ErrMissingCorrelationID)
	}
	if env.Type == "" {
		return fmt.Errorf("message %s: %w", env.ID, ErrMissingEventType)
	}

	var span Span
	if r.observer != nil {
		span = r.observer.Start(env.Type)
	}
	err := r.dispatch(ctx, env)
	if span != nil {
		span.End(err)
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, env messaging.Envelope) error {
	correlationID := env.CorrelationID

	switch env.Type {
	case TypePublishRequested:
		var req saga.PublishRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		if req.CorrelationID == "" {
			req.CorrelationID = correlationID
		}
		_, err := r.coordinator.StartSaga(ctx, req)
		return err

	case TypeBillingCheckSucceeded:
		return r.coordinator.HandleBillingCheck(ctx, correlationID, saga.BillingCheckResult{Approved: true})

	case TypeBillingCheckFailed:
		var body failureBody
		if err := decode(env, &body); err != nil {
			return err
		}
		return r.coordinator.HandleBillingCheck(ctx, correlationID, saga.BillingCheckResult{
			Approved: false,
			Reason:   body.Reason,
		})

	case TypeProductFeedReady:
		var body feedReadyBody
		if err := decode(env, &body); err != nil {
			return err
		}
		return r.coordinator.HandleProductFeed(ctx, correlationID, saga.ProductFeedResult{
			Ready:      true,
			Compliance: body.FeedComplianceStatus,
		})

	case TypeProductFeedPrepFailed:
		var body failureBody
		if err := decode(env, &body); err != nil {
			return err
		}
		return r.coordinator.HandleProductFeed(ctx, correlationID, saga.ProductFeedResult{
			Ready:  false,
			Reason: body.Reason,
		})

	case TypeAdNetworkPublishSucceeded:
		var body adNetworkSuccessBody
		if err := decode(env, &body); err != nil {
			return err
		}
		return r.coordinator.HandleAdNetworkPublish(ctx, correlationID, saga.AdNetworkPublishResult{
			AdNetworkID:        body.AdNetworkID,
			Success:            true,
			ExternalCampaignID: body.ExternalCampaignID,
		})

	case TypeAdNetworkPublishFailed:
		var body adNetworkFailureBody
		if err := decode(env, &body); err != nil {
			return err
		}
		return r.coordinator.HandleAdNetworkPublish(ctx, correlationID, saga.AdNetworkPublishResult{
			AdNetworkID: body.AdNetworkID,
			Success:     false,
			Reason:      body.Reason,
		})

	case TypeCampaignStatusUpdated:
		return r.coordinator.HandleCampaignStatusUpdate(ctx, correlationID, saga.CampaignStatusUpdateResult{Success: true})

	case TypeCampaignStatusUpdateFailed:
		var body failureBody
		if err := decode(env, &body); err != nil {
			return err
		}
		return r.coordinator.HandleCampaignStatusUpdate(ctx, correlationID, saga.CampaignStatusUpdateResult{
			Success: false,
			Reason:  body.Reason,
		})
	}

	return fmt.Errorf("message %s: %w: %q", env.ID, ErrUnrecognizedEventType, env.Type)
}

func decode(env messaging.Envelope, out any) error {
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("decode %s message %s: %w", env.Type, env.ID, err)
	}
	return nil
}
