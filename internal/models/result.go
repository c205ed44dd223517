package models

import "time"

// SignalReason explains a signal's UNKNOWN status when it is not derived from
// live data.
type SignalReason string

const (
	ReasonNoAccess          SignalReason = "no_access"
	ReasonNoStatus          SignalReason = "no_status"
	ReasonStepLimitExceeded SignalReason = SignalReason(SkipStepLimitExceeded)
	ReasonFlowLimitExceeded SignalReason = SignalReason(SkipFlowLimitExceeded)
)

// SignalStatus is a leaf of the rolled-up tree.
type SignalStatus struct {
	GUID     string       `json:"guid"`
	Name     string       `json:"name"`
	Type     SignalType   `json:"type"`
	Status   Status       `json:"status"`
	Included bool         `json:"included"`
	QueryID  string       `json:"queryId,omitempty"`
	Reason   SignalReason `json:"reason,omitempty"`
}

// StepStatus is the rollup of a step's included signals.
type StepStatus struct {
	ID      string         `json:"id"`
	Status  Status         `json:"status"`
	Signals []SignalStatus `json:"signals"`
}

// LevelStatus is the rollup of a level's steps.
type LevelStatus struct {
	ID     string       `json:"id"`
	Status Status       `json:"status"`
	Steps  []StepStatus `json:"steps"`
}

// StageStatus is the rollup of a stage's levels.
type StageStatus struct {
	ID     string        `json:"id"`
	Status Status        `json:"status"`
	Levels []LevelStatus `json:"levels"`
}

// FlowStatus is the complete output delivered to the renderer for one cycle
// or one playback band.
type FlowStatus struct {
	FlowID              string               `json:"flowId"`
	Status              Status               `json:"status"`
	Stages              []StageStatus        `json:"stages"`
	SignalsWithNoAccess map[string]SignalRef `json:"signalsWithNoAccess"`
	SignalsWithNoStatus map[string]SignalRef `json:"signalsWithNoStatus"`
	TooManySignalInStep SkipTree             `json:"tooManySignalInStep"`
	DynamicQuerySignals map[string][]Signal  `json:"dynamicQuerySignals"`
	Window              TimeWindow           `json:"window"`
	CycleID             string               `json:"cycleId,omitempty"`
	GeneratedAt         time.Time            `json:"generatedAt"`
	Records             StatusRecords        `json:"-"`
}

// Stage returns the rolled-up stage with id, if present.
func (f FlowStatus) Stage(id string) (StageStatus, bool) {
	for _, stage := range f.Stages {
		if stage.ID == id {
			return stage, true
		}
	}
	return StageStatus{}, false
}

// Step returns the rolled-up step addressed by its ancestry.
func (f FlowStatus) Step(stageID, levelID, stepID string) (StepStatus, bool) {
	stage, ok := f.Stage(stageID)
	if !ok {
		return StepStatus{}, false
	}
	for _, level := range stage.Levels {
		if level.ID != levelID {
			continue
		}
		for _, step := range level.Steps {
			if step.ID == stepID {
				return step, true
			}
		}
	}
	return StepStatus{}, false
}
