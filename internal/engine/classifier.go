package engine

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-flows/internal/metrics"
	"github.com/miradorstack/mirador-flows/internal/models"
)

// Quota is a per-fetch-kind signal limit. Zero or negative means unlimited.
type Quota struct {
	Entity int
	Alert  int
}

func (q Quota) forType(t models.SignalType) int {
	if t.FetchKind() == models.SignalTypeAlert {
		return q.Alert
	}
	return q.Entity
}

// Limits bounds how many signals a single step and the whole flow may fetch.
type Limits struct {
	Step Quota
	Flow Quota
}

// Classifier partitions a resolved flow's signals into fetchable, no-access
// and skipped sets.
type Classifier struct {
	limits Limits
	debug  bool
	logger *slog.Logger
}

// NewClassifier constructs a classifier with fixed limits. With debug set,
// counts and every skip decision are logged at info level.
func NewClassifier(limits Limits, debug bool, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{limits: limits, debug: debug, logger: logger}
}

func (c *Classifier) logSkip(stageID, levelID, stepID, guid string, reason models.SkipReason) {
	if !c.debug {
		return
	}
	c.logger.Info("signal skipped",
		slog.String("stage", stageID),
		slog.String("level", levelID),
		slog.String("step", stepID),
		slog.String("guid", guid),
		slog.String("reason", string(reason)),
	)
}

// Classify walks the flow in document order. Signals with malformed guids are
// dropped. Signals whose account is not in accounts land in NoAccess without
// consuming quota. Each distinct accessible guid in a step takes one step slot
// whether or not it is later admitted; a guid already admitted by an earlier
// step is reused without touching the flow quota.
func (c *Classifier) Classify(res Resolution, accounts []int64) *models.Classification {
	cls := &models.Classification{
		Flow:                res.Flow,
		GuidSet:             models.NewGuidSet(),
		NoAccess:            models.NoAccessSet{},
		Skipped:             models.SkipTree{},
		DynamicQuerySignals: res.DynamicQuerySignals,
		Accounts:            make(map[int64]struct{}, len(accounts)),
	}
	if cls.DynamicQuerySignals == nil {
		cls.DynamicQuerySignals = map[string][]models.Signal{}
	}
	for _, id := range accounts {
		cls.Accounts[id] = struct{}{}
	}

	malformed := 0
	for _, stage := range res.Flow.Stages {
		for _, level := range stage.Levels {
			for _, step := range level.Steps {
				stepSeen := map[models.SignalType]map[string]struct{}{
					models.SignalTypeEntity: {},
					models.SignalTypeAlert:  {},
				}
				for _, sig := range step.Signals {
					if !sig.Type.Valid() {
						malformed++
						continue
					}
					guid, err := models.DecodeGUID(sig.GUID)
					if err != nil {
						malformed++
						c.logger.Debug("dropping signal with malformed guid",
							slog.String("step", step.ID),
							slog.String("guid", sig.GUID),
						)
						continue
					}
					if _, ok := cls.Accounts[guid.AccountID]; !ok {
						cls.NoAccess[sig.GUID] = models.SignalRef{Name: sig.Name, Type: sig.Type}
						continue
					}

					kind := sig.Type.FetchKind()
					seen := stepSeen[kind]
					if _, dup := seen[sig.GUID]; dup {
						continue
					}
					seen[sig.GUID] = struct{}{}

					if limit := c.limits.Step.forType(kind); limit > 0 && len(seen) > limit {
						cls.Skipped.Add(stage.ID, level.ID, step.ID, sig.GUID, models.SkippedSignal{
							Name: sig.Name, Type: sig.Type, Reason: models.SkipStepLimitExceeded,
						})
						c.logSkip(stage.ID, level.ID, step.ID, sig.GUID, models.SkipStepLimitExceeded)
						continue
					}

					admitted := cls.GuidSet.For(kind)
					if _, ok := admitted[sig.GUID]; ok {
						continue
					}
					if limit := c.limits.Flow.forType(kind); limit > 0 && len(admitted) >= limit {
						cls.Skipped.Add(stage.ID, level.ID, step.ID, sig.GUID, models.SkippedSignal{
							Name: sig.Name, Type: sig.Type, Reason: models.SkipFlowLimitExceeded,
						})
						c.logSkip(stage.ID, level.ID, step.ID, sig.GUID, models.SkipFlowLimitExceeded)
						continue
					}
					admitted[sig.GUID] = struct{}{}
				}
			}
		}
	}

	for _, t := range []models.SignalType{models.SignalTypeEntity, models.SignalTypeAlert} {
		metrics.SetClassified("fetch", string(t), len(cls.GuidSet.For(t)))
		metrics.SetClassified("skipped", string(t), len(cls.SkippedOnly(t)))
	}
	metrics.SetClassified("no_access", "all", len(cls.NoAccess))

	logLevel := slog.LevelDebug
	if c.debug {
		logLevel = slog.LevelInfo
	}
	c.logger.Log(context.Background(), logLevel, "classified flow signals",
		slog.String("flow", res.Flow.ID),
		slog.Int("entities", len(cls.GuidSet.Entity)),
		slog.Int("alerts", len(cls.GuidSet.Alert)),
		slog.Int("no_access", len(cls.NoAccess)),
		slog.Int("malformed", malformed),
	)
	return cls
}
