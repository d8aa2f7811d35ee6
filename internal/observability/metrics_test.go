package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adlift/internal/saga"
)

func TestMetricsTracksEvents(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("saga.billing.approved")
	time.Sleep(1 * time.Millisecond)
	span.End(nil)

	span = metrics.Start("saga.billing.approved")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Events["saga.billing.approved"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 events, got %d", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 inflight, got %d", stats.InFlight)
	}
	if snap.TotalEvents != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsTracksSagaLifecycle(t *testing.T) {
	metrics := NewMetrics()
	metrics.SagaStarted()
	metrics.SagaStarted()
	metrics.SagaCompleted()
	metrics.SagaFailed(saga.StateFailed)
	metrics.SagaFailed(saga.StateFailedFinalization)
	metrics.CompensationDispatched("billing.budget.release")
	metrics.CompensationDispatched("billing.budget.release")
	metrics.CompensationDispatched("adnetwork.campaign.delete")

	snap := metrics.Snapshot()
	if snap.Sagas.Started != 2 || snap.Sagas.Completed != 1 {
		t.Fatalf("unexpected saga counters: %+v", snap.Sagas)
	}
	if snap.Sagas.Failed["FAILED"] != 1 || snap.Sagas.Failed["FAILED_FINALIZATION"] != 1 {
		t.Fatalf("unexpected failure counters: %+v", snap.Sagas.Failed)
	}
	if snap.Sagas.Compensations["billing.budget.release"] != 2 {
		t.Fatalf("unexpected compensation counters: %+v", snap.Sagas.Compensations)
	}
}

func TestMetricsTracksDeadLetters(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkDeadLettered()
	metrics.MarkDeadLettered()

	snap := metrics.Snapshot()
	if snap.DeadLettered != 2 {
		t.Fatalf("expected 2 dead letters, got %d", snap.DeadLettered)
	}
}

func TestMetricsTracksRateLimitWait(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddRateLimitWait(50 * time.Millisecond)
	metrics.AddRateLimitWait(25 * time.Millisecond)
	metrics.AddRateLimitWait(0)

	snap := metrics.Snapshot()
	if snap.RateLimitWaits != 2 {
		t.Fatalf("expected 2 waits, got %d", snap.RateLimitWaits)
	}
	if snap.RateLimitWaitMs != 75 {
		t.Fatalf("expected 75ms, got %d", snap.RateLimitWaitMs)
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 5 {
		t.Fatalf("expected inflight 5, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
	if snap.Lifecycle.ShutdownAt.IsZero() {
		t.Fatalf("expected shutdown timestamp")
	}
}

func TestHandlerReturnsJSON(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("saga.publish.requested")
	span.End(errors.New("fail"))
	metrics.SagaFailed(saga.StateFailed)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	Handler(metrics).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("expected total errors 1, got %d", snap.TotalErrors)
	}
	if len(snap.Events) == 0 {
		t.Fatalf("expected events in snapshot")
	}
	if snap.Sagas.Failed["FAILED"] != 1 {
		t.Fatalf("unexpected saga failures: %+v", snap.Sagas.Failed)
	}
}

func TestMetricsNilSafePaths(t *testing.T) {
	var m *Metrics
	span := m.Start("ignored") // nil-safe
	span.End(nil)              // should not panic

	m.SagaStarted()
	m.SagaFailed(saga.StateFailed)
	m.MarkDeadLettered()
	m.MarkShutdown(10) // nil-safe
}
