package engine

import (
	"github.com/miradorstack/mirador-flows/internal/models"
)

// Rollup returns the least healthy known status among statuses. UNKNOWN
// values are ignored unless every value is UNKNOWN.
func Rollup(statuses ...models.Status) models.Status {
	best := 0
	for _, s := range statuses {
		rank := s.Rank()
		if rank == 0 {
			continue
		}
		if best == 0 || rank < best {
			best = rank
		}
	}
	switch best {
	case 1:
		return models.StatusCritical
	case 2:
		return models.StatusWarning
	case 3:
		return models.StatusSuccess
	default:
		return models.StatusUnknown
	}
}

// deriver maps a signal's status record to a Status. The bool result reports
// whether a record existed.
type deriver func(records models.StatusRecords, guid string) (models.Status, bool)

var derivers = map[models.SignalType]deriver{
	models.SignalTypeEntity:       deriveEntity,
	models.SignalTypeServiceLevel: deriveServiceLevel,
	models.SignalTypeAlert:        deriveAlert,
}

// DeriveStatus computes a single signal's status from the cycle's records.
func DeriveStatus(sig models.Signal, records models.StatusRecords) (models.Status, bool) {
	fn, ok := derivers[sig.Type]
	if !ok {
		return models.StatusUnknown, false
	}
	return fn(records, sig.GUID)
}

func deriveEntity(records models.StatusRecords, guid string) (models.Status, bool) {
	entity, ok := records.Entities[guid]
	if !ok {
		return models.StatusUnknown, false
	}
	switch entity.WorkloadState {
	case "DISRUPTED":
		return models.StatusCritical, true
	case "DEGRADED":
		return models.StatusWarning, true
	case "OPERATIONAL":
		return models.StatusSuccess, true
	}
	if !entity.Reporting {
		return models.StatusUnknown, true
	}
	switch entity.AlertSeverity {
	case "CRITICAL":
		return models.StatusCritical, true
	case "WARNING":
		return models.StatusWarning, true
	case "NOT_ALERTING":
		return models.StatusSuccess, true
	default:
		return models.StatusUnknown, true
	}
}

func deriveServiceLevel(records models.StatusRecords, guid string) (models.Status, bool) {
	entity, ok := records.Entities[guid]
	if !ok {
		return models.StatusUnknown, false
	}
	if entity.ServiceLevel == nil {
		return models.StatusUnknown, true
	}
	if entity.ServiceLevel.Attainment >= entity.ServiceLevel.Target {
		return models.StatusSuccess, true
	}
	return models.StatusCritical, true
}

func deriveAlert(records models.StatusRecords, guid string) (models.Status, bool) {
	alert, ok := records.Alerts[guid]
	if !ok {
		return models.StatusUnknown, false
	}
	if !alert.Enabled {
		return models.StatusUnknown, true
	}
	switch alert.InferredPriority {
	case models.PriorityCritical, models.PriorityHigh:
		return models.StatusCritical, true
	case models.PriorityWarning:
		return models.StatusWarning, true
	default:
		return models.StatusSuccess, true
	}
}

// RollupFlow produces the status tree for a classification and a set of
// status records. It is pure: the same inputs always yield the same tree.
func RollupFlow(cls *models.Classification, records models.StatusRecords, window models.TimeWindow) models.FlowStatus {
	out := models.FlowStatus{
		Status:              models.StatusUnknown,
		SignalsWithNoAccess: map[string]models.SignalRef{},
		SignalsWithNoStatus: map[string]models.SignalRef{},
		TooManySignalInStep: models.SkipTree{},
		DynamicQuerySignals: map[string][]models.Signal{},
		Window:              window,
		Records:             records,
	}
	if cls == nil {
		return out
	}
	out.FlowID = cls.Flow.ID
	for guid, ref := range cls.NoAccess {
		out.SignalsWithNoAccess[guid] = ref
	}
	for id, signals := range cls.DynamicQuerySignals {
		out.DynamicQuerySignals[id] = signals
	}
	out.TooManySignalInStep = cls.Skipped

	stageStatuses := make([]models.Status, 0, len(cls.Flow.Stages))
	for _, stage := range cls.Flow.Stages {
		ss := models.StageStatus{ID: stage.ID}
		levelStatuses := make([]models.Status, 0, len(stage.Levels))
		for _, level := range stage.Levels {
			ls := models.LevelStatus{ID: level.ID}
			stepStatuses := make([]models.Status, 0, len(level.Steps))
			for _, step := range level.Steps {
				st := rollupStep(cls, records, stage.ID, level.ID, step, out.SignalsWithNoStatus)
				ls.Steps = append(ls.Steps, st)
				stepStatuses = append(stepStatuses, st.Status)
			}
			ls.Status = Rollup(stepStatuses...)
			ss.Levels = append(ss.Levels, ls)
			levelStatuses = append(levelStatuses, ls.Status)
		}
		ss.Status = Rollup(levelStatuses...)
		out.Stages = append(out.Stages, ss)
		stageStatuses = append(stageStatuses, ss.Status)
	}
	out.Status = Rollup(stageStatuses...)
	return out
}

func rollupStep(cls *models.Classification, records models.StatusRecords, stageID, levelID string, step models.Step, noStatus map[string]models.SignalRef) models.StepStatus {
	st := models.StepStatus{ID: step.ID, Signals: make([]models.SignalStatus, 0, len(step.Signals))}
	var contributing []models.Status
	for _, sig := range step.Signals {
		ss := models.SignalStatus{
			GUID:     sig.GUID,
			Name:     sig.Name,
			Type:     sig.Type,
			Status:   models.StatusUnknown,
			Included: sig.Included,
			QueryID:  sig.QueryID,
		}
		switch {
		case hasNoAccess(cls, sig.GUID):
			ss.Reason = models.ReasonNoAccess
		case isSkipped(cls, stageID, levelID, step.ID, sig.GUID):
			entry, _ := cls.Skipped.Lookup(stageID, levelID, step.ID, sig.GUID)
			ss.Reason = models.SignalReason(entry.Reason)
		case cls.GuidSet.Contains(sig.Type, sig.GUID):
			status, found := DeriveStatus(sig, records)
			ss.Status = status
			if !found {
				ss.Reason = models.ReasonNoStatus
				noStatus[sig.GUID] = models.SignalRef{Name: sig.Name, Type: sig.Type}
			}
			if sig.Included {
				contributing = append(contributing, status)
			}
		}
		st.Signals = append(st.Signals, ss)
	}
	st.Status = Rollup(contributing...)
	return st
}

func hasNoAccess(cls *models.Classification, guid string) bool {
	_, ok := cls.NoAccess[guid]
	return ok
}

func isSkipped(cls *models.Classification, stageID, levelID, stepID, guid string) bool {
	_, ok := cls.Skipped.Lookup(stageID, levelID, stepID, guid)
	return ok
}
