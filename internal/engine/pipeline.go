package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-flows/internal/metrics"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/utils"
)

// PipelineOptions tunes the live pipeline.
type PipelineOptions struct {
	// TimeRange is the trailing live window.
	TimeRange time.Duration
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

// Pipeline owns the classification and the published status. It has a
// single writer per state: SetInputs replaces the classification, Refresh and
// Publish replace the status. Readers always see a complete value.
type Pipeline struct {
	logger     *slog.Logger
	resolver   *Resolver
	classifier *Classifier
	fetcher    *Fetcher
	timeRange  time.Duration
	clock      func() time.Time

	classification atomic.Pointer[models.Classification]
	current        atomic.Pointer[models.FlowStatus]

	mu        sync.Mutex
	listeners []func(models.FlowStatus)

	latencies *utils.LatencyTracker
	cycles    atomic.Int64
	paused    atomic.Bool
}

// NewPipeline wires the resolver, classifier and fetcher together.
func NewPipeline(logger *slog.Logger, resolver *Resolver, classifier *Classifier, fetcher *Fetcher, opts PipelineOptions) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = NewResolver(nil, logger)
	}
	if classifier == nil {
		classifier = NewClassifier(Limits{}, false, logger)
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, 0, logger)
	}
	if opts.TimeRange <= 0 {
		opts.TimeRange = 30 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		logger:     logger,
		resolver:   resolver,
		classifier: classifier,
		fetcher:    fetcher,
		timeRange:  opts.TimeRange,
		clock:      opts.Clock,
		latencies:  utils.NewLatencyTracker(256),
	}
}

// Prepare resolves dynamic queries and classifies the result without touching
// pipeline state.
func (p *Pipeline) Prepare(ctx context.Context, flow models.Flow, accounts []int64) *models.Classification {
	return p.classifier.Classify(p.resolver.Resolve(ctx, flow), accounts)
}

// SetInputs prepares a new classification and makes it the one consumed by
// the next live cycle.
func (p *Pipeline) SetInputs(ctx context.Context, flow models.Flow, accounts []int64) *models.Classification {
	cls := p.Prepare(ctx, flow, accounts)
	p.classification.Store(cls)
	return cls
}

// Classification returns the latest classification, or nil before SetInputs.
func (p *Pipeline) Classification() *models.Classification {
	return p.classification.Load()
}

// Fetch retrieves status records for cls over window without publishing.
func (p *Pipeline) Fetch(ctx context.Context, cls *models.Classification, window models.TimeWindow) (models.StatusRecords, FetchReport) {
	if cls == nil {
		return models.NewStatusRecords(nil, nil), FetchReport{}
	}
	return p.fetcher.FetchAll(ctx, cls.GuidSet, window)
}

// FetchEntities retrieves entity records for cls over window without publishing.
func (p *Pipeline) FetchEntities(ctx context.Context, cls *models.Classification, window models.TimeWindow) (map[string]models.EntityStatus, FetchReport) {
	if cls == nil {
		return map[string]models.EntityStatus{}, FetchReport{}
	}
	return p.fetcher.FetchEntities(ctx, cls.GuidSet.Entity, window)
}

// FetchAlerts retrieves alert records for cls over window without publishing.
func (p *Pipeline) FetchAlerts(ctx context.Context, cls *models.Classification, window models.TimeWindow) (map[string]models.AlertStatus, FetchReport) {
	if cls == nil {
		return map[string]models.AlertStatus{}, FetchReport{}
	}
	return p.fetcher.FetchAlerts(ctx, cls.GuidSet.Alert, window)
}

// LiveWindow returns the trailing viewing window ending now.
func (p *Pipeline) LiveWindow() models.TimeWindow {
	start, end := utils.TrailingWindow(p.clock(), p.timeRange)
	return models.TimeWindow{Start: start, End: end}
}

// Refresh runs one live cycle: it fetches status for the latest
// classification over the live window, rolls it up and publishes it. Fetch
// failures never abort the cycle.
func (p *Pipeline) Refresh(ctx context.Context) {
	cls := p.classification.Load()
	if cls == nil {
		metrics.ObserveCycle(0, metrics.OutcomeSkipped)
		return
	}

	cycleID := uuid.NewString()
	started := time.Now()
	window := p.LiveWindow()
	records, report := p.Fetch(ctx, cls, window)

	status := RollupFlow(cls, records, window)
	status.CycleID = cycleID
	status.GeneratedAt = p.clock().UTC()
	if p.paused.Load() {
		p.logger.Debug("live status dropped during playback", slog.String("cycle_id", cycleID))
		metrics.ObserveCycle(time.Since(started), metrics.OutcomeSkipped)
		return
	}
	p.Publish(status)

	elapsed := time.Since(started)
	outcome := metrics.OutcomeSuccess
	if report.FailedBatches > 0 {
		outcome = metrics.OutcomePartial
	}
	metrics.ObserveCycle(elapsed, outcome)
	p.latencies.Observe(elapsed)

	p.logger.Debug("status cycle complete",
		slog.String("cycle_id", cycleID),
		slog.String("status", string(status.Status)),
		slog.Int("batches", report.Batches),
		slog.Int("failed_batches", report.FailedBatches),
		slog.Duration("elapsed", elapsed),
	)
	if n := p.cycles.Add(1); n%20 == 0 {
		summary := p.latencies.Summary()
		p.logger.Info("status cycle latency",
			slog.Int64("cycles", n),
			slog.Duration("p50", summary.P50),
			slog.Duration("p95", summary.P95),
			slog.Duration("max", summary.Max),
		)
	}
}

// PauseLive stops Refresh from publishing while paused is set. A cycle that
// was already in flight when playback started finishes without replacing the
// played-back status.
func (p *Pipeline) PauseLive(paused bool) {
	p.paused.Store(paused)
}

// Publish makes status the current view and notifies listeners.
func (p *Pipeline) Publish(status models.FlowStatus) {
	p.current.Store(&status)

	p.mu.Lock()
	listeners := make([]func(models.FlowStatus), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

// Current returns the most recently published status.
func (p *Pipeline) Current() (models.FlowStatus, bool) {
	status := p.current.Load()
	if status == nil {
		return models.FlowStatus{}, false
	}
	return *status, true
}

// OnPublish registers fn to be called with every published status.
func (p *Pipeline) OnPublish(fn func(models.FlowStatus)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}
