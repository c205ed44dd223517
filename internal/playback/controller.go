package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-flows/internal/engine"
	"github.com/miradorstack/mirador-flows/internal/metrics"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/utils"
)

// ErrNoBands is returned when Preload is called without bands.
var ErrNoBands = errors.New("playback: no time bands")

// Pipeline is the subset of the engine pipeline used for playback.
type Pipeline interface {
	Prepare(ctx context.Context, flow models.Flow, accounts []int64) *models.Classification
	FetchEntities(ctx context.Context, cls *models.Classification, window models.TimeWindow) (map[string]models.EntityStatus, engine.FetchReport)
	FetchAlerts(ctx context.Context, cls *models.Classification, window models.TimeWindow) (map[string]models.AlertStatus, engine.FetchReport)
	Publish(status models.FlowStatus)
	PauseLive(paused bool)
}

// Poller is the live polling scheduler.
type Poller interface {
	Disable()
	Enable()
}

// InputSource supplies the flow tree and accessible accounts.
type InputSource interface {
	Inputs() (models.Flow, []int64)
}

// Callback receives each band's result as soon as it is ready. Calls are
// serialised but arrive in completion order.
type Callback func(bandIndex int, status models.FlowStatus)

// PreloadReport summarises a preload.
type PreloadReport struct {
	SessionID     string
	Loaded        int
	Cached        int
	FailedBatches int
}

// Options configures a Controller.
type Options struct {
	Concurrency int
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Controller preloads historical bands and replays them on seek.
type Controller struct {
	pipeline    Pipeline
	poller      Poller
	inputs      InputSource
	cache       *Cache
	concurrency int
	logger      *slog.Logger
	clock       func() time.Time

	active atomic.Pointer[models.TimeWindow]
}

// NewController constructs a playback controller.
func NewController(pipeline Pipeline, poller Poller, inputs InputSource, cache *Cache, opts Options) *Controller {
	if cache == nil {
		cache = NewCache()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Controller{
		pipeline:    pipeline,
		poller:      poller,
		inputs:      inputs,
		cache:       cache,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		clock:       opts.Clock,
	}
}

// Preload disables live polling and computes a rolled-up result for every
// band not already cached (or every band when overwrite is set). The guid
// classification is computed once for the session; alert history is fetched
// once over the span of all bands and sliced per band, while entity status is
// fetched per band.
func (c *Controller) Preload(ctx context.Context, bands []models.TimeBand, callback Callback, overwrite bool) (PreloadReport, error) {
	report := PreloadReport{SessionID: uuid.NewString()}
	if len(bands) == 0 {
		return report, ErrNoBands
	}
	normalised := make([]models.TimeBand, len(bands))
	for i, band := range bands {
		if !band.Valid() {
			return report, fmt.Errorf("playback: band %d has invalid window %d..%d", i, band.Start, band.End)
		}
		normalised[i] = models.NewTimeBand(band.TimeWindow)
	}
	bands = normalised
	if c.poller != nil {
		c.poller.Disable()
	}
	c.pipeline.PauseLive(true)

	// Bands sharing a key are fetched once and delivered to every index.
	type pending struct {
		indexes []int
		band    models.TimeBand
	}
	var todo []*pending
	byKey := make(map[string]*pending)
	for i, band := range bands {
		if !overwrite && c.cache.Has(band.Key) {
			report.Cached++
			metrics.ObservePlayback("cached")
			continue
		}
		if p, ok := byKey[band.Key]; ok {
			p.indexes = append(p.indexes, i)
			continue
		}
		p := &pending{indexes: []int{i}, band: band}
		byKey[band.Key] = p
		todo = append(todo, p)
	}
	if len(todo) == 0 {
		return report, nil
	}

	var flow models.Flow
	var accounts []int64
	if c.inputs != nil {
		flow, accounts = c.inputs.Inputs()
	}
	cls := c.pipeline.Prepare(ctx, flow, accounts)

	loadBands := make([]models.TimeBand, 0, len(todo))
	for _, p := range todo {
		loadBands = append(loadBands, p.band)
	}
	span := models.SpanWindow(loadBands)
	alerts, alertReport := c.pipeline.FetchAlerts(ctx, cls, span)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	report.FailedBatches = alertReport.FailedBatches
	g.SetLimit(c.concurrency)
	for _, p := range todo {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entities, entityReport := c.pipeline.FetchEntities(ctx, cls, p.band.TimeWindow)
			records := models.NewStatusRecords(entities, models.SliceAlerts(alerts, p.band.TimeWindow))
			status := engine.RollupFlow(cls, records, p.band.TimeWindow)
			status.CycleID = report.SessionID
			status.GeneratedAt = c.clock().UTC()
			c.cache.Put(Entry{Band: p.band, Status: status}, overwrite)
			metrics.ObservePlayback("loaded")

			mu.Lock()
			defer mu.Unlock()
			report.Loaded++
			report.FailedBatches += entityReport.FailedBatches
			if callback != nil {
				for _, i := range p.indexes {
					callback(i, status)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	c.logger.Info("playback preload complete",
		slog.String("session_id", report.SessionID),
		slog.Int("bands", len(bands)),
		slog.Time("span_start", utils.MillisToTime(span.Start)),
		slog.Float64("span_minutes", utils.DurationMinutes(utils.MillisToTime(span.Start), utils.MillisToTime(span.End))),
		slog.Int("loaded", report.Loaded),
		slog.Int("cached", report.Cached),
		slog.Int("failed_batches", report.FailedBatches),
	)
	if err != nil {
		return report, fmt.Errorf("playback preload: %w", err)
	}
	return report, nil
}

// Seek republishes the cached result for window without any network call and
// holds live polling until ClearTimeWindow. It reports false when the band was
// never preloaded.
func (c *Controller) Seek(window models.TimeWindow) (models.FlowStatus, bool) {
	entry, ok := c.cache.Get(window.Key())
	if !ok {
		metrics.ObservePlayback("seek_miss")
		c.logger.Debug("seek on uncached band", slog.String("key", window.Key()))
		return models.FlowStatus{}, false
	}
	metrics.ObservePlayback("seek_hit")
	if c.poller != nil {
		c.poller.Disable()
	}
	c.pipeline.PauseLive(true)
	w := window
	c.active.Store(&w)
	c.pipeline.Publish(entry.Status)
	return entry.Status, true
}

// Active returns the window currently being played back.
func (c *Controller) Active() (models.TimeWindow, bool) {
	w := c.active.Load()
	if w == nil {
		return models.TimeWindow{}, false
	}
	return *w, true
}

// ClearTimeWindow leaves playback and resumes live polling with an immediate
// cycle. Cached bands are kept.
func (c *Controller) ClearTimeWindow() {
	c.active.Store(nil)
	c.pipeline.PauseLive(false)
	if c.poller != nil {
		c.poller.Enable()
	}
}

// Reset drops every cached band and resumes live polling.
func (c *Controller) Reset() {
	c.cache.Clear()
	c.ClearTimeWindow()
}

// CachedBands returns the number of cached bands.
func (c *Controller) CachedBands() int {
	return c.cache.Len()
}
