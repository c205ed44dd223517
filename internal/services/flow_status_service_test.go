package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-flows/internal/engine"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/playback"
	"github.com/miradorstack/mirador-flows/internal/repo"
)

type pipelineStub struct {
	flows    []models.Flow
	accounts [][]int64
	current  *models.FlowStatus
}

func (p *pipelineStub) SetInputs(_ context.Context, flow models.Flow, accounts []int64) *models.Classification {
	p.flows = append(p.flows, flow)
	p.accounts = append(p.accounts, accounts)
	return &models.Classification{Flow: flow, GuidSet: models.NewGuidSet()}
}

func (p *pipelineStub) Current() (models.FlowStatus, bool) {
	if p.current == nil {
		return models.FlowStatus{}, false
	}
	return *p.current, true
}

type triggerStub struct{ count int }

func (t *triggerStub) Trigger() { t.count++ }

type playerStub struct {
	bands   []models.TimeBand
	cached  map[string]models.FlowStatus
	cleared int
	err     error
}

func (p *playerStub) Preload(_ context.Context, bands []models.TimeBand, cb playback.Callback, _ bool) (playback.PreloadReport, error) {
	if p.err != nil {
		return playback.PreloadReport{}, p.err
	}
	p.bands = bands
	for i := len(bands) - 1; i >= 0; i-- {
		result := models.FlowStatus{Status: models.StatusSuccess, Window: bands[i].TimeWindow}
		p.cached[bands[i].Key] = result
		cb(i, result)
	}
	return playback.PreloadReport{SessionID: "session", Loaded: len(bands)}, nil
}

func (p *playerStub) Seek(window models.TimeWindow) (models.FlowStatus, bool) {
	result, ok := p.cached[window.Key()]
	return result, ok
}

func (p *playerStub) ClearTimeWindow() { p.cleared++ }

func newTestService() (*FlowStatusService, *pipelineStub, *triggerStub, *playerStub) {
	pipeline := &pipelineStub{}
	trigger := &triggerStub{}
	player := &playerStub{cached: map[string]models.FlowStatus{}}
	svc := NewFlowStatusService(nil, pipeline, trigger, nil)
	svc.SetPlayer(player)
	return svc, pipeline, trigger, player
}

func TestSetInputsReclassifiesAndTriggers(t *testing.T) {
	svc, pipeline, trigger, _ := newTestService()

	svc.SetInputs(context.Background(), models.Flow{ID: "checkout"}, []int64{1, 2})
	svc.SetAccounts(context.Background(), []int64{1})

	if len(pipeline.flows) != 2 {
		t.Fatalf("expected two classifications, got %d", len(pipeline.flows))
	}
	if pipeline.flows[1].ID != "checkout" || len(pipeline.accounts[1]) != 1 {
		t.Fatalf("expected flow to be kept while accounts change: %+v %+v", pipeline.flows[1], pipeline.accounts[1])
	}
	if trigger.count != 2 {
		t.Fatalf("expected two triggers, got %d", trigger.count)
	}
}

func TestGetStatusBeforeFirstCycle(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.GetStatus(context.Background(), &emptypb.Empty{})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestGetStatusReturnsCurrent(t *testing.T) {
	svc, pipeline, _, _ := newTestService()
	pipeline.current = &models.FlowStatus{FlowID: "checkout", Status: models.StatusWarning}

	resp, err := svc.GetStatus(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != "WARNING" {
		t.Fatalf("unexpected status %v", resp.GetFields()["status"])
	}
}

func TestPreloadThenSeek(t *testing.T) {
	svc, _, _, player := newTestService()
	req, _ := structpb.NewStruct(map[string]interface{}{
		"bands": []interface{}{
			map[string]interface{}{"start": 1000, "end": 2000},
			map[string]interface{}{"start": 2000, "end": 3000},
		},
	})

	resp, err := svc.Preload(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(player.bands) != 2 {
		t.Fatalf("expected two bands, got %d", len(player.bands))
	}
	results := resp.GetFields()["results"].GetListValue().GetValues()
	if len(results) != 2 || results[0].GetStructValue().GetFields()["index"].GetNumberValue() != 0 {
		t.Fatalf("unexpected results %v", results)
	}

	seekReq, _ := structpb.NewStruct(map[string]interface{}{"start": 2000, "end": 3000})
	seekResp, err := svc.Seek(context.Background(), seekReq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seekResp.GetFields()["found"].GetBoolValue() {
		t.Fatalf("expected cached band to be found")
	}

	missReq, _ := structpb.NewStruct(map[string]interface{}{"start": 5000, "end": 6000})
	missResp, err := svc.Seek(context.Background(), missReq)
	if err != nil {
		t.Fatalf("seek miss must not be an error: %v", err)
	}
	if missResp.GetFields()["found"].GetBoolValue() {
		t.Fatalf("expected miss")
	}
}

func TestPreloadRejectsBadRequest(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Preload(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestPreloadCancelled(t *testing.T) {
	svc, _, _, player := newTestService()
	player.err = context.Canceled
	req, _ := structpb.NewStruct(map[string]interface{}{
		"bands": []interface{}{map[string]interface{}{"start": 1000, "end": 2000}},
	})

	_, err := svc.Preload(context.Background(), req)
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestClearPlaybackAndRefresh(t *testing.T) {
	svc, _, trigger, player := newTestService()

	if _, err := svc.ClearPlayback(context.Background(), &emptypb.Empty{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), &emptypb.Empty{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if player.cleared != 1 || trigger.count != 1 {
		t.Fatalf("expected clear and trigger once, got %d/%d", player.cleared, trigger.count)
	}
}

// gatedSearcher holds the first search until release is closed.
type gatedSearcher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSearcher) SearchSignals(_ context.Context, _ []repo.SearchQuery) (map[string][]models.Signal, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return map[string][]models.Signal{}, nil
}

func dynamicFlow(id string) models.Flow {
	return models.Flow{ID: id, Stages: []models.Stage{{
		ID: "stage-1",
		Levels: []models.Level{{
			ID: "level-1",
			Steps: []models.Step{{
				ID:      "step-1",
				Queries: []models.Query{{ID: "hosts", Type: models.SignalTypeEntity, SearchExpression: "type = 'HOST'", Included: true}},
			}},
		}},
	}}}
}

func TestOverlappingInputUpdatesKeepLatestClassification(t *testing.T) {
	searcher := &gatedSearcher{entered: make(chan struct{}), release: make(chan struct{})}
	pipeline := engine.NewPipeline(nil, engine.NewResolver(searcher, nil), nil, nil, engine.PipelineOptions{})
	svc := NewFlowStatusService(nil, pipeline, nil, nil)
	ctx := context.Background()

	first := make(chan struct{})
	go func() {
		defer close(first)
		svc.SetFlow(ctx, dynamicFlow("v1"))
	}()
	<-searcher.entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		svc.SetFlow(ctx, dynamicFlow("v2"))
	}()
	select {
	case <-second:
	case <-time.After(50 * time.Millisecond):
	}
	close(searcher.release)
	<-first
	<-second

	cls := pipeline.Classification()
	if cls == nil {
		t.Fatalf("expected a classification")
	}
	flow, _ := svc.Inputs()
	if flow.ID != "v2" || cls.Flow.ID != "v2" {
		t.Fatalf("classification is for %s, latest inputs are %s", cls.Flow.ID, flow.ID)
	}
}
