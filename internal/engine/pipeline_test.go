package engine

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-flows/internal/models"
)

func newTestPipeline(client *fakeStatusClient, now time.Time) *Pipeline {
	return NewPipeline(
		nil,
		NewResolver(nil, nil),
		NewClassifier(Limits{Step: Quota{Entity: 25, Alert: 25}, Flow: Quota{Entity: 250, Alert: 250}}, false, nil),
		NewFetcher(client, 25, nil),
		PipelineOptions{TimeRange: 30 * time.Minute, Clock: func() time.Time { return now }},
	)
}

func TestPipelineRefreshPublishesRollup(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	client := newFakeStatusClient()
	healthy, critical := entityGUID(1, "web"), entityGUID(2, "db")
	client.entities[healthy] = models.EntityStatus{GUID: healthy, Reporting: true, AlertSeverity: "NOT_ALERTING"}
	client.entities[critical] = models.EntityStatus{GUID: critical, Reporting: true, AlertSeverity: "CRITICAL"}

	pipeline := newTestPipeline(client, now)
	var published []models.FlowStatus
	pipeline.OnPublish(func(status models.FlowStatus) { published = append(published, status) })

	flow := singleStepFlow(
		signal(healthy, "web", models.SignalTypeEntity),
		signal(critical, "db", models.SignalTypeEntity),
	)
	pipeline.SetInputs(context.Background(), flow, []int64{1, 2})
	pipeline.Refresh(context.Background())

	current, ok := pipeline.Current()
	if !ok {
		t.Fatalf("expected a published status")
	}
	if current.Status != models.StatusCritical {
		t.Fatalf("expected CRITICAL flow, got %s", current.Status)
	}
	if current.CycleID == "" {
		t.Fatalf("expected cycle id to be set")
	}
	if len(published) != 1 {
		t.Fatalf("expected one publish notification, got %d", len(published))
	}
	wantStart := now.Add(-30 * time.Minute).UnixMilli()
	if current.Window.Start != wantStart || current.Window.End != now.UnixMilli() {
		t.Fatalf("unexpected live window %+v", current.Window)
	}
	for _, w := range client.entityWindows {
		if w != current.Window {
			t.Fatalf("fetch used window %+v, published %+v", w, current.Window)
		}
	}
}

func TestPipelineRefreshUsesLatestClassification(t *testing.T) {
	client := newFakeStatusClient()
	healthy, critical := entityGUID(1, "web"), entityGUID(2, "db")
	client.entities[healthy] = models.EntityStatus{GUID: healthy, Reporting: true, AlertSeverity: "NOT_ALERTING"}
	client.entities[critical] = models.EntityStatus{GUID: critical, Reporting: true, AlertSeverity: "CRITICAL"}
	pipeline := newTestPipeline(client, time.UnixMilli(1_700_000_000_000))

	flow := singleStepFlow(
		signal(healthy, "web", models.SignalTypeEntity),
		signal(critical, "db", models.SignalTypeEntity),
	)
	pipeline.SetInputs(context.Background(), flow, []int64{1, 2})
	pipeline.SetInputs(context.Background(), flow, []int64{1})
	pipeline.Refresh(context.Background())

	current, _ := pipeline.Current()
	step, ok := current.Step("stage-1", "level-1", "step-1")
	if !ok {
		t.Fatalf("step missing from output")
	}
	if step.Status != models.StatusSuccess {
		t.Fatalf("expected SUCCESS once the critical account is inaccessible, got %s", step.Status)
	}
	if _, ok := current.SignalsWithNoAccess[critical]; !ok {
		t.Fatalf("expected %s in signalsWithNoAccess", critical)
	}
	for _, call := range client.entityCalls {
		for _, guid := range call {
			if guid == critical {
				t.Fatalf("inaccessible guid must not be fetched")
			}
		}
	}
}

func TestPipelineRefreshWithoutInputsIsNoop(t *testing.T) {
	client := newFakeStatusClient()
	pipeline := newTestPipeline(client, time.Now())

	pipeline.Refresh(context.Background())

	if _, ok := pipeline.Current(); ok {
		t.Fatalf("expected nothing published before inputs are set")
	}
	if client.calls() != 0 {
		t.Fatalf("expected no fetches, got %d", client.calls())
	}
}

func TestPipelinePrepareDoesNotReplaceClassification(t *testing.T) {
	pipeline := newTestPipeline(newFakeStatusClient(), time.Now())
	flow := singleStepFlow(signal(entityGUID(1, "a"), "a", models.SignalTypeEntity))

	live := pipeline.SetInputs(context.Background(), flow, []int64{1})
	pipeline.Prepare(context.Background(), flow, nil)

	if pipeline.Classification() != live {
		t.Fatalf("Prepare must not replace the live classification")
	}
}

func TestPipelinePauseLiveSuppressesPublish(t *testing.T) {
	client := newFakeStatusClient()
	guid := entityGUID(1, "web")
	client.entities[guid] = models.EntityStatus{GUID: guid, Reporting: true, AlertSeverity: "WARNING"}
	pipeline := newTestPipeline(client, time.UnixMilli(1_700_000_000_000))
	pipeline.SetInputs(context.Background(), singleStepFlow(signal(guid, "web", models.SignalTypeEntity)), []int64{1})

	pipeline.PauseLive(true)
	pipeline.Refresh(context.Background())
	if _, ok := pipeline.Current(); ok {
		t.Fatalf("paused pipeline must not publish live status")
	}

	pipeline.PauseLive(false)
	pipeline.Refresh(context.Background())
	current, ok := pipeline.Current()
	if !ok || current.Status != models.StatusWarning {
		t.Fatalf("expected WARNING after resume, got %+v", current.Status)
	}
}
