package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-flows/internal/engine"
	"github.com/miradorstack/mirador-flows/internal/models"
)

var (
	entityID = models.EncodeGUID(1, "APM", "APPLICATION", "checkout")
	alertID  = models.ConditionGUID(1, "77")
)

type fakePipeline struct {
	mu            sync.Mutex
	prepareCalls  int
	entityWindows []models.TimeWindow
	alertWindows  []models.TimeWindow
	published     []models.FlowStatus
	paused        bool
}

func (f *fakePipeline) Prepare(_ context.Context, flow models.Flow, accounts []int64) *models.Classification {
	f.mu.Lock()
	f.prepareCalls++
	f.mu.Unlock()
	return engine.NewClassifier(engine.Limits{}, false, nil).Classify(engine.Resolution{Flow: flow}, accounts)
}

func (f *fakePipeline) FetchEntities(_ context.Context, _ *models.Classification, window models.TimeWindow) (map[string]models.EntityStatus, engine.FetchReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityWindows = append(f.entityWindows, window)
	severity := "NOT_ALERTING"
	if window.Start == 1000 {
		severity = "WARNING"
	}
	return map[string]models.EntityStatus{
		entityID: {GUID: entityID, Reporting: true, AlertSeverity: severity},
	}, engine.FetchReport{Batches: 1}
}

func (f *fakePipeline) FetchAlerts(_ context.Context, _ *models.Classification, window models.TimeWindow) (map[string]models.AlertStatus, engine.FetchReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertWindows = append(f.alertWindows, window)
	incidents := []models.Incident{{ID: "inc", ConditionID: "77", Priority: models.PriorityCritical, OpenedAt: 2500, ClosedAt: 2600}}
	return map[string]models.AlertStatus{
		alertID: {GUID: alertID, ConditionID: "77", Enabled: true, InferredPriority: models.InferPriority(incidents), Incidents: incidents},
	}, engine.FetchReport{Batches: 3}
}

func (f *fakePipeline) Publish(status models.FlowStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, status)
}

func (f *fakePipeline) PauseLive(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

func (f *fakePipeline) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entityWindows) + len(f.alertWindows)
}

type fakePoller struct {
	mu       sync.Mutex
	disabled int
	enabled  int
}

func (p *fakePoller) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled++
}

func (p *fakePoller) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled++
}

type staticInputs struct{}

func (staticInputs) Inputs() (models.Flow, []int64) {
	return models.Flow{
		ID: "checkout",
		Stages: []models.Stage{{
			ID: "s",
			Levels: []models.Level{{
				ID: "l",
				Steps: []models.Step{{ID: "pay", Signals: []models.Signal{
					{GUID: entityID, Name: "checkout", Type: models.SignalTypeEntity, Included: true},
					{GUID: alertID, Name: "errors", Type: models.SignalTypeAlert, Included: true},
				}}},
			}},
		}},
	}, []int64{1}
}

func bands() []models.TimeBand {
	return []models.TimeBand{
		models.NewTimeBand(models.TimeWindow{Start: 1000, End: 2000}),
		models.NewTimeBand(models.TimeWindow{Start: 2000, End: 3000}),
	}
}

func newTestController(p *fakePipeline, poller *fakePoller) *Controller {
	return NewController(p, poller, staticInputs{}, NewCache(), Options{
		Concurrency: 2,
		Clock:       func() time.Time { return time.UnixMilli(5000) },
	})
}

func TestPreloadThenSeekReturnsCallbackResultWithoutFetching(t *testing.T) {
	p := &fakePipeline{}
	poller := &fakePoller{}
	c := newTestController(p, poller)

	var mu sync.Mutex
	delivered := map[int]models.FlowStatus{}
	report, err := c.Preload(context.Background(), bands(), func(i int, status models.FlowStatus) {
		mu.Lock()
		defer mu.Unlock()
		delivered[i] = status
	}, false)
	require.NoError(t, err)
	require.Equal(t, 2, report.Loaded)
	require.Len(t, delivered, 2)
	require.Equal(t, 1, poller.disabled)
	require.Equal(t, 1, p.prepareCalls)
	require.Equal(t, []models.TimeWindow{{Start: 1000, End: 3000}}, p.alertWindows)
	require.Len(t, p.entityWindows, 2)

	require.Equal(t, models.StatusWarning, delivered[0].Status)
	require.Equal(t, models.StatusCritical, delivered[1].Status)

	calls := p.networkCalls()
	got, ok := c.Seek(models.TimeWindow{Start: 1000, End: 2000})
	require.True(t, ok)
	require.Equal(t, delivered[0], got)
	require.Equal(t, calls, p.networkCalls())
	require.Len(t, p.published, 1)
	require.Equal(t, delivered[0], p.published[0])

	active, ok := c.Active()
	require.True(t, ok)
	require.Equal(t, int64(1000), active.Start)
}

func TestPreloadSkipsCachedBandsUnlessOverwrite(t *testing.T) {
	p := &fakePipeline{}
	c := newTestController(p, &fakePoller{})

	_, err := c.Preload(context.Background(), bands()[:1], nil, false)
	require.NoError(t, err)

	report, err := c.Preload(context.Background(), bands(), nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Cached)
	require.Equal(t, 1, report.Loaded)
	require.Len(t, p.entityWindows, 2)

	report, err = c.Preload(context.Background(), bands(), nil, true)
	require.NoError(t, err)
	require.Equal(t, 2, report.Loaded)
	require.Zero(t, report.Cached)
	require.Equal(t, 2, c.CachedBands())
}

func TestPreloadFetchesRepeatedBandOnce(t *testing.T) {
	p := &fakePipeline{}
	c := newTestController(p, &fakePoller{})
	band := bands()[0]

	var mu sync.Mutex
	delivered := map[int]models.FlowStatus{}
	report, err := c.Preload(context.Background(), []models.TimeBand{band, band}, func(i int, status models.FlowStatus) {
		mu.Lock()
		defer mu.Unlock()
		delivered[i] = status
	}, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Loaded)
	require.Len(t, p.entityWindows, 1)
	require.Len(t, delivered, 2)
	require.Equal(t, delivered[0], delivered[1])

	got, ok := c.Seek(band.TimeWindow)
	require.True(t, ok)
	require.Equal(t, delivered[1], got)
}

func TestSeekAfterClearHoldsLivePolling(t *testing.T) {
	p := &fakePipeline{}
	poller := &fakePoller{}
	c := newTestController(p, poller)
	_, err := c.Preload(context.Background(), bands(), nil, false)
	require.NoError(t, err)
	c.ClearTimeWindow()
	require.False(t, p.paused)

	_, ok := c.Seek(bands()[0].TimeWindow)
	require.True(t, ok)
	require.True(t, p.paused)
	require.Equal(t, 2, poller.disabled)
	_, active := c.Active()
	require.True(t, active)
}

func TestSeekMissIsNoop(t *testing.T) {
	p := &fakePipeline{}
	c := newTestController(p, &fakePoller{})

	_, ok := c.Seek(models.TimeWindow{Start: 1, End: 2})

	require.False(t, ok)
	require.Empty(t, p.published)
	_, active := c.Active()
	require.False(t, active)
}

func TestClearTimeWindowResumesPolling(t *testing.T) {
	p := &fakePipeline{}
	poller := &fakePoller{}
	c := newTestController(p, poller)
	_, err := c.Preload(context.Background(), bands(), nil, false)
	require.NoError(t, err)
	c.Seek(bands()[1].TimeWindow)
	require.True(t, p.paused)

	c.ClearTimeWindow()

	_, active := c.Active()
	require.False(t, active)
	require.False(t, p.paused)
	require.Equal(t, 1, poller.enabled)
	require.Equal(t, 2, c.CachedBands())

	c.Reset()
	require.Zero(t, c.CachedBands())
	require.Equal(t, 2, poller.enabled)
}

func TestPreloadRejectsEmptyAndInvalidBands(t *testing.T) {
	c := newTestController(&fakePipeline{}, &fakePoller{})

	_, err := c.Preload(context.Background(), nil, nil, false)
	require.ErrorIs(t, err, ErrNoBands)

	_, err = c.Preload(context.Background(), []models.TimeBand{{TimeWindow: models.TimeWindow{Start: 5, End: 5}}}, nil, false)
	require.Error(t, err)
}
