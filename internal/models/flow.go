package models

import "gopkg.in/yaml.v3"

// SignalType enumerates the kinds of telemetry a Step can monitor.
type SignalType string

const (
	SignalTypeEntity       SignalType = "entity"
	SignalTypeAlert        SignalType = "alert"
	SignalTypeServiceLevel SignalType = "service_level"
)

// FetchKind maps a signal type onto the status query that serves it. Service
// levels are entities on the telemetry side and share the entity fetch path.
func (t SignalType) FetchKind() SignalType {
	if t == SignalTypeServiceLevel {
		return SignalTypeEntity
	}
	return t
}

// Valid reports whether t is one of the known signal types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeEntity, SignalTypeAlert, SignalTypeServiceLevel:
		return true
	default:
		return false
	}
}

// Flow is an ordered sequence of stages forming one business journey.
type Flow struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Stages []Stage `yaml:"stages" json:"stages"`
}

// Stage groups levels.
type Stage struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Levels []Level `yaml:"levels" json:"levels"`
}

// Level groups steps.
type Level struct {
	ID    string `yaml:"id" json:"id"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step owns explicit signals and dynamic queries that resolve to more signals.
type Step struct {
	ID      string   `yaml:"id" json:"id"`
	Title   string   `yaml:"title" json:"title"`
	Queries []Query  `yaml:"queries,omitempty" json:"queries,omitempty"`
	Signals []Signal `yaml:"signals,omitempty" json:"signals,omitempty"`
}

// Query is a dynamic signal definition evaluated by the telemetry search API.
type Query struct {
	ID               string     `yaml:"id" json:"id"`
	Type             SignalType `yaml:"type" json:"type"`
	SearchExpression string     `yaml:"searchExpression" json:"searchExpression"`
	Filters          []Filter   `yaml:"filters,omitempty" json:"filters,omitempty"`
	Included         bool       `yaml:"included" json:"included"`
}

// Filter is a single attribute comparison. Values are always rendered as
// escaped literals.
type Filter struct {
	Attribute string `yaml:"attribute" json:"attribute"`
	Operator  string `yaml:"operator" json:"operator"`
	Value     string `yaml:"value" json:"value"`
}

// Signal is a single monitored entity, alert condition or service level.
type Signal struct {
	GUID     string     `yaml:"guid" json:"guid"`
	Name     string     `yaml:"name" json:"name"`
	Type     SignalType `yaml:"type" json:"type"`
	Included bool       `yaml:"included" json:"included"`
	QueryID  string     `yaml:"queryId,omitempty" json:"queryId,omitempty"`
}

// HasQueries reports whether any step in the flow defines a dynamic query.
func (f Flow) HasQueries() bool {
	for _, stage := range f.Stages {
		for _, level := range stage.Levels {
			for _, step := range level.Steps {
				if len(step.Queries) > 0 {
					return true
				}
			}
		}
	}
	return false
}

// Clone returns a deep copy so that merged query results never alias the
// caller's tree.
func (f Flow) Clone() Flow {
	out := Flow{ID: f.ID, Name: f.Name, Stages: make([]Stage, len(f.Stages))}
	for i, stage := range f.Stages {
		cs := Stage{ID: stage.ID, Name: stage.Name, Levels: make([]Level, len(stage.Levels))}
		for j, level := range stage.Levels {
			cl := Level{ID: level.ID, Steps: make([]Step, len(level.Steps))}
			for k, step := range level.Steps {
				cl.Steps[k] = Step{
					ID:      step.ID,
					Title:   step.Title,
					Queries: append([]Query(nil), step.Queries...),
					Signals: append([]Signal(nil), step.Signals...),
				}
			}
			cs.Levels[j] = cl
		}
		out.Stages[i] = cs
	}
	return out
}

// UnmarshalYAML defaults Included to true when the document omits it.
func (s *Signal) UnmarshalYAML(value *yaml.Node) error {
	type plain Signal
	raw := plain{Included: true}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = Signal(raw)
	return nil
}

// UnmarshalYAML defaults Included to true when the document omits it.
func (q *Query) UnmarshalYAML(value *yaml.Node) error {
	type plain Query
	raw := plain{Included: true}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*q = Query(raw)
	return nil
}
